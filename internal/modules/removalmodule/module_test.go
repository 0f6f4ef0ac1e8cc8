package removalmodule

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/modules/modulemanager"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media/mediatest"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Storage.AssetDir = filepath.Join(dir, "assets")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.MinFreeBytes = 1 << 20
	cfg.Pipeline.CleanupInterval = 0
	cfg.Pipeline.MaxSessions = 2
	return cfg
}

type testModule struct {
	*Module
	encoders *mediatest.MockEncoderFactory
	free     uint64
	freeErr  error
}

func newTestModule(t *testing.T, cfg *config.Config, db *gorm.DB) *testModule {
	t.Helper()
	tm := &testModule{encoders: &mediatest.MockEncoderFactory{}, free: 1 << 40}
	info := media.ProbeInfo{Width: 320, Height: 180, Duration: time.Second, FrameRate: 5, Codec: "h264"}
	tm.Module = NewModule(db, cfg, hclog.NewNullLogger()).WithBackends(Backends{
		Prober:   &mediatest.MockProber{Info: info},
		Decoders: &mediatest.MockDecoderFactory{},
		Encoders: tm.encoders,
		FreeSpace: func(context.Context, string) (uint64, error) {
			return tm.free, tm.freeErr
		},
	})
	if db != nil {
		require.NoError(t, tm.Migrate(db))
	}
	require.NoError(t, tm.Init())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tm.Shutdown(ctx)
	})
	return tm
}

func TestModule_Identity(t *testing.T) {
	m := NewModule(nil, nil, nil)
	assert.Equal(t, ModuleID, m.ID())
	assert.Equal(t, ModuleName, m.Name())
	assert.Equal(t, ModuleVersion, m.GetVersion())
	assert.True(t, m.Core())

	registered, ok := modulemanager.Registry.GetModule(ModuleID)
	require.True(t, ok)
	assert.Equal(t, ModuleName, registered.Name())
}

func TestModule_InitAndRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := newTestModule(t, testConfig(t), setupTestDB(t))

	router := gin.New()
	tm.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/removal/sessions", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, tm.Service().Sessions.Count())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/removal/history", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModule_WithoutHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := newTestModule(t, testConfig(t), nil)
	assert.Nil(t, tm.Service().History)

	router := gin.New()
	tm.RegisterRoutes(router)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/removal/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestModule_HealthCheck(t *testing.T) {
	cfg := testConfig(t)
	tm := newTestModule(t, cfg, nil)
	ctx := context.Background()

	status := tm.HealthCheck(ctx)
	assert.Equal(t, modulemanager.HealthStateHealthy, status.Status)
	assert.Equal(t, "available", status.Details["encoder"])

	tm.free = 1024
	status = tm.HealthCheck(ctx)
	assert.Equal(t, modulemanager.HealthStateDegraded, status.Status)

	tm.free = 1 << 40
	tm.freeErr = errors.New("no such volume")
	status = tm.HealthCheck(ctx)
	assert.Equal(t, modulemanager.HealthStateDegraded, status.Status)
	assert.Contains(t, status.Message, "no such volume")

	tm.freeErr = nil
	for i := 0; i < cfg.Pipeline.MaxSessions; i++ {
		_, err := tm.Service().Sessions.Create()
		require.NoError(t, err)
	}
	status = tm.HealthCheck(ctx)
	assert.Equal(t, modulemanager.HealthStateDegraded, status.Status)
	assert.Equal(t, "session limit reached", status.Message)

	tm.encoders.AvailableErr = errors.New("ffmpeg missing")
	status = tm.HealthCheck(ctx)
	assert.Equal(t, modulemanager.HealthStateUnhealthy, status.Status)
}

func TestModule_HealthBeforeInit(t *testing.T) {
	m := NewModule(nil, nil, nil)
	assert.Equal(t, modulemanager.HealthStateUnknown, m.HealthCheck(context.Background()).Status)
	assert.Error(t, m.ReloadConfig(config.DefaultConfig()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestModule_ReloadConfigSwapsFilter(t *testing.T) {
	cfg := testConfig(t)
	tm := newTestModule(t, cfg, nil)
	before := tm.Service().Compositor.Filter()

	same := *cfg
	require.NoError(t, tm.ReloadConfig(&same))
	assert.Same(t, before, tm.Service().Compositor.Filter())

	changed := *cfg
	changed.Filter.BlurSigma = 35
	require.NoError(t, tm.ReloadConfig(&changed))
	assert.NotSame(t, before, tm.Service().Compositor.Filter())
	assert.Equal(t, 35.0, tm.Service().Compositor.Filter().Params().BlurSigma)
}

func TestService_Sweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.RetainFor = time.Millisecond
	cfg.Storage.HistoryRetention = time.Hour
	db := setupTestDB(t)
	tm := newTestModule(t, cfg, db)
	service := tm.Service()
	ctx := context.Background()

	put := func(data string) string {
		asset := &types.OutputAsset{Data: []byte(data), Format: types.FormatMP4H264, Filename: data + ".mp4"}
		meta, err := service.Assets.Put(ctx, "s", asset)
		require.NoError(t, err)
		return meta.Hash
	}
	orphan := put("orphan")
	kept := put("kept")

	now := time.Now()
	old := now.Add(-2 * time.Hour)
	require.NoError(t, db.Create(&database.RemovalSession{
		ID: "recent", Status: database.RemovalStatusComplete, AssetHash: kept, CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&database.RemovalSession{
		ID: "stale", Status: database.RemovalStatusFailed, CreatedAt: old, UpdatedAt: old,
	}).Error)

	time.Sleep(5 * time.Millisecond)
	service.Sweep(now)

	assert.False(t, service.Assets.Exists(orphan))
	assert.True(t, service.Assets.Exists(kept))

	_, err := service.History.Get("stale")
	assert.Error(t, err)
	_, err = service.History.Get("recent")
	assert.NoError(t, err)
}
