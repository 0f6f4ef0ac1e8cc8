package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/compositor"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/filter"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media/mediatest"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/session"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/sink"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/storage"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/validator"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

const base = "/api/v1/removal"

var display = types.Rect{Origin: types.Point{X: 0, Y: 0}, Size: types.Size{Width: 320, Height: 180}}

type envOptions struct {
	maxSessions int
	token       string
}

type testEnv struct {
	router    *gin.Engine
	manager   *session.Manager
	history   *session.Store
	assets    *storage.ContentStore
	encoders  *mediatest.MockEncoderFactory
	uploadDir string
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := hclog.NewNullLogger()

	info := media.ProbeInfo{Width: 640, Height: 360, Duration: 2 * time.Second, FrameRate: 5, Codec: "h264"}
	prober := &mediatest.MockProber{Info: info}
	decoders := &mediatest.MockDecoderFactory{}
	encoders := &mediatest.MockEncoderFactory{}
	comp := compositor.New(filter.New(filter.DefaultParams()), encoders,
		sink.Options{FrameRate: info.FrameRate}, compositor.Config{}, logger)

	assets, err := storage.NewContentStore(storage.Config{
		BaseDir:   t.TempDir(),
		FreeSpace: func(context.Context, string) (uint64, error) { return 1 << 40, nil },
	}, logger)
	require.NoError(t, err)

	history := session.NewStore(setupTestDB(t), logger)
	deps := session.Deps{
		Validator: validator.New(prober, decoders, validator.DefaultLimits(), logger),
		Runner:    comp,
		Decoders:  decoders,
		Hooks: session.Hooks{
			OnComplete: func(ctx context.Context, id string, asset *types.OutputAsset) error {
				_, err := assets.Put(ctx, id, asset)
				return err
			},
		},
	}
	manager := session.NewManager(deps, history, session.Config{MaxSessions: opts.maxSessions}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	uploadDir := t.TempDir()
	handler := NewAPIHandler(manager, Config{UploadDir: uploadDir}, logger,
		WithHistory(history),
		WithAssets(assets),
		WithAuthorizer(NewTokenAuthorizer(opts.token)),
		WithCapabilities(encoders),
	)
	router := gin.New()
	RegisterRoutes(router, handler)

	return &testEnv{
		router:    router,
		manager:   manager,
		history:   history,
		assets:    assets,
		encoders:  encoders,
		uploadDir: uploadDir,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, id, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, base+"/sessions/"+id+"/source", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, base+"/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[types.Snapshot](t, w).SessionID
}

func (e *testEnv) editing(t *testing.T) string {
	t.Helper()
	id := e.create(t)
	w := e.upload(t, id, "clip.mp4", mediatest.MP4Header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func (e *testEnv) drawTriangle(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes", StrokeRequest{Point: types.Point{X: 100, Y: 50}, Display: display})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes/points", ExtendRequest{
		Points:  []types.Point{{X: 200, Y: 50}, {X: 150, Y: 130}},
		Display: display,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["committed"])
}

func (e *testEnv) waitForKind(t *testing.T, id string, kind types.StateKind) types.Snapshot {
	t.Helper()
	var snap types.Snapshot
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, base+"/sessions/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		snap = decode[types.Snapshot](t, w)
		return snap.State.Kind == kind
	}, 5*time.Second, 10*time.Millisecond, "session never reached %s", kind)
	return snap
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]interface{}](t, w)
	code, _ := body["code"].(string)
	return code
}

func TestAPI_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	id := env.create(t)

	w := env.do(t, http.MethodGet, base+"/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StateIdle, decode[types.Snapshot](t, w).State.Kind)

	w = env.do(t, http.MethodGet, base+"/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]interface{}](t, w)["count"])

	w = env.do(t, http.MethodDelete, base+"/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, base+"/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))

	w = env.do(t, http.MethodDelete, base+"/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_SessionLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{maxSessions: 1})
	env.create(t)

	w := env.do(t, http.MethodPost, base+"/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAPI_UploadAcceptsVideo(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	w := env.upload(t, id, "clip.mp4", mediatest.MP4Header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	snap := decode[types.Snapshot](t, w)
	assert.Equal(t, types.StateEditing, snap.State.Kind)
	require.NotNil(t, snap.Source)
	assert.Equal(t, "clip.mp4", snap.Source.Name)
	assert.Equal(t, 640, snap.Source.Width)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "accepted upload is kept for decoding")
}

func TestAPI_UploadRejectsNonVideo(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	w := env.upload(t, id, "photo.png", png)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "INPUT_REJECTED", body["code"])
	assert.Equal(t, "type", body["details"].(map[string]interface{})["reason"])

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload is removed")

	w = env.do(t, http.MethodGet, base+"/sessions/"+id, nil)
	assert.Equal(t, types.StateIdle, decode[types.Snapshot](t, w).State.Kind)
}

func TestAPI_UploadRequiresFile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	w := env.do(t, http.MethodPost, base+"/sessions/"+id+"/source", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestAPI_AuthoringRequiresEditing(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	w := env.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes", StrokeRequest{Point: types.Point{X: 1, Y: 1}, Display: display})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "STATE", errorCode(t, w))

	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/masks/undo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_StrokeValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.editing(t)

	w := env.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes", StrokeRequest{Point: types.Point{X: 1, Y: 1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/strokes/points", map[string]interface{}{"display": display})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_MasksUndoAndClear(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.editing(t)
	env.drawTriangle(t, id)
	env.drawTriangle(t, id)

	w := env.do(t, http.MethodGet, base+"/sessions/"+id+"/masks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, float64(2), body["count"])
	first := body["masks"].([]interface{})[0].(map[string]interface{})
	point := first["points"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(200), point["x"], "display points are stored in native pixels")
	assert.Equal(t, float64(100), point["y"])

	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/masks/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["removed"])

	w = env.do(t, http.MethodDelete, base+"/sessions/"+id+"/masks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[types.Snapshot](t, w).MaskCount)

	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/masks/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]interface{}](t, w)["removed"])
}

func TestAPI_ProcessWithoutMasks(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.editing(t)

	w := env.do(t, http.MethodPost, base+"/sessions/"+id+"/process", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PRECONDITION_FAILED", errorCode(t, w))
	assert.Nil(t, env.encoders.Last(), "no encoder is built without masks")
}

func TestAPI_CancelOutsideProcessing(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.editing(t)

	w := env.do(t, http.MethodDelete, base+"/sessions/"+id+"/process", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_ProcessAndDownload(t *testing.T) {
	env := newTestEnv(t, envOptions{token: "s3cret"})
	id := env.editing(t)
	env.drawTriangle(t, id)

	w := env.do(t, http.MethodGet, base+"/sessions/"+id+"/download", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "nothing to download before Complete")

	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/process", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	snap := env.waitForKind(t, id, types.StateComplete)
	require.NotNil(t, snap.State.Asset)
	assert.Equal(t, 1.0, snap.State.Progress)
	hash := snap.State.Asset.ContentHash
	require.True(t, storage.ValidHash(hash))

	w = env.do(t, http.MethodGet, base+"/sessions/"+id+"/download", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, base+"/sessions/"+id+"/download", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment; filename=erased-"), disposition)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ftyp"))
	assert.Equal(t, storage.HashBytes(rec.Body.Bytes()), hash)

	w = env.do(t, http.MethodGet, base+"/assets/"+hash+"?token=s3cret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.Body.Bytes(), w.Body.Bytes())

	w = env.do(t, http.MethodGet, base+"/assets/"+strings.Repeat("0", 64)+"?token=s3cret", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, base+"/history/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		row := decode[database.RemovalSession](t, w)
		return row.Status == database.RemovalStatusComplete && row.AssetHash == hash
	}, 5*time.Second, 10*time.Millisecond)

	// a processed output is not re-editable; only a new upload re-enters Editing
	w = env.do(t, http.MethodPost, base+"/sessions/"+id+"/masks/undo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.upload(t, id, "second.mp4", mediatest.MP4Header)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decode[types.Snapshot](t, w)
	assert.Equal(t, types.StateEditing, snap.State.Kind)
	assert.Equal(t, 0, snap.MaskCount)
}

func TestAPI_Reset(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.editing(t)
	env.drawTriangle(t, id)

	w := env.do(t, http.MethodPost, base+"/sessions/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[types.Snapshot](t, w)
	assert.Equal(t, types.StateIdle, snap.State.Kind)
	assert.Nil(t, snap.Source)
	assert.Zero(t, snap.MaskCount)
}

func TestAPI_Preview(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	w := env.do(t, http.MethodGet, base+"/sessions/"+id+"/preview", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no source yet")

	w = env.upload(t, id, "clip.mp4", mediatest.MP4Header)
	require.Equal(t, http.StatusOK, w.Code)
	env.drawTriangle(t, id)

	w = env.do(t, http.MethodGet, base+"/sessions/"+id+"/preview?t=1&width=64&quality=50", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", string(w.Body.Bytes()[:4]))
	assert.Equal(t, "1.000", w.Header().Get("X-Frame-PTS"))

	w = env.do(t, http.MethodGet, base+"/sessions/"+id+"/preview?t=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, base+"/sessions/"+id+"/preview?width=-4", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_History(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	w := env.do(t, http.MethodGet, base+"/history?status=idle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, float64(1), body["count"])

	w = env.do(t, http.MethodGet, base+"/history/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[database.RemovalSession](t, w).ID)

	w = env.do(t, http.MethodGet, base+"/history/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_HistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, NewAPIHandler(nil, Config{}, hclog.NewNullLogger()))

	req := httptest.NewRequest(http.MethodGet, base+"/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_Capabilities(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, base+"/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]map[string]interface{}](t, w)["encoder"]["available"])

	env.encoders.AvailableErr = rerrors.CapabilityUnavailable("encoder_probe", rerrors.ErrEncoderUnavailable)
	w = env.do(t, http.MethodGet, base+"/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	encoder := decode[map[string]map[string]interface{}](t, w)["encoder"]
	assert.Equal(t, false, encoder["available"])
	assert.Contains(t, encoder["error"], "encoder unavailable")
}

func TestAPI_EventStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.create(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + base + "/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, eventSnapshot, msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, types.StateIdle, msg.Snapshot.State.Kind)

	w := env.upload(t, id, "clip.mp4", mediatest.MP4Header)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.StateEditing, msg.Snapshot.State.Kind)

	require.NoError(t, env.manager.Delete(id))
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == eventClosed {
			break
		}
	}
	assert.Equal(t, id, msg.SessionID)
}

func TestAPI_EventStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, base+"/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rerrors.InputRejected(rerrors.ReasonSize, "v", rerrors.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{rerrors.InputRejected(rerrors.ReasonType, "v", rerrors.ErrUnsupportedType), http.StatusUnsupportedMediaType},
		{rerrors.InputRejected(rerrors.ReasonDuration, "v", rerrors.ErrDurationExceeded), http.StatusUnprocessableEntity},
		{rerrors.PreconditionFailed(rerrors.ReasonNoMasks, "p", rerrors.ErrNoMasks), http.StatusUnprocessableEntity},
		{rerrors.InvalidArgument("start_stroke", rerrors.ErrInvalidGeometry), http.StatusBadRequest},
		{rerrors.StateError("s", rerrors.ErrInvalidState), http.StatusConflict},
		{rerrors.StateError("s", rerrors.ErrSessionLimit), http.StatusTooManyRequests},
		{rerrors.NotFoundError("g", rerrors.ErrSessionNotFound), http.StatusNotFound},
		{rerrors.CapabilityUnavailable("c", rerrors.ErrEncoderUnavailable), http.StatusServiceUnavailable},
		{rerrors.InternalError("i", rerrors.ErrInsufficientSpace), http.StatusInsufficientStorage},
		{rerrors.InternalError("i", rerrors.ErrTimeout), http.StatusGatewayTimeout},
		{rerrors.PlaybackError(rerrors.ReasonDecode, "d", rerrors.ErrDecodeFailed), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestToAPIError_HidesInternalDetail(t *testing.T) {
	apiErr := toAPIError(rerrors.PlaybackError(rerrors.ReasonDecode, "decode", errors.New("pipe: /tmp/x broken")))
	assert.Equal(t, "Internal server error", apiErr.Message)
	assert.Equal(t, "PLAYBACK", apiErr.Code)

	apiErr = toAPIError(rerrors.InputRejected(rerrors.ReasonDuration, "validate", rerrors.ErrDurationExceeded).
		WithDetail("max_duration", 60.0))
	assert.Equal(t, rerrors.ErrDurationExceeded.Error(), apiErr.Message)
	assert.Equal(t, 60.0, apiErr.Context["max_duration"])
	assert.Equal(t, "duration", apiErr.Context["reason"])
}
