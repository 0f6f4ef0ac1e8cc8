package modulemanager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/config"
)

type fakeModule struct {
	id       string
	core     bool
	initErr  error
	stopErr  error
	events   *[]string
	reloaded *config.Config
}

func (m *fakeModule) ID() string   { return m.id }
func (m *fakeModule) Name() string { return "fake " + m.id }
func (m *fakeModule) Core() bool   { return m.core }

func (m *fakeModule) Migrate(db *gorm.DB) error {
	*m.events = append(*m.events, "migrate "+m.id)
	return nil
}

func (m *fakeModule) Init() error {
	*m.events = append(*m.events, "init "+m.id)
	return m.initErr
}

func (m *fakeModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/"+m.id, func(c *gin.Context) { c.String(http.StatusOK, m.id) })
}

func (m *fakeModule) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{Status: HealthStateHealthy}
}

func (m *fakeModule) Shutdown(ctx context.Context) error {
	*m.events = append(*m.events, "shutdown "+m.id)
	return m.stopErr
}

func (m *fakeModule) ReloadConfig(cfg *config.Config) error {
	m.reloaded = cfg
	return nil
}

// plainModule implements none of the optional interfaces.
type plainModule struct{ id string }

func (m plainModule) ID() string             { return m.id }
func (m plainModule) Name() string           { return m.id }
func (m plainModule) Core() bool             { return false }
func (m plainModule) Migrate(*gorm.DB) error { return nil }
func (m plainModule) Init() error            { return nil }

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestLoadAll_OrderAndShutdownReverse(t *testing.T) {
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "a", core: true, events: &events})
	r.Register(&fakeModule{id: "b", events: &events})

	require.NoError(t, r.LoadAll(setupTestDB(t)))
	assert.Equal(t, []string{"migrate a", "init a", "migrate b", "init b"}, events)

	// a second load is a no-op
	require.NoError(t, r.LoadAll(nil))
	assert.Len(t, events, 4)

	events = events[:0]
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"shutdown b", "shutdown a"}, events)
}

func TestLoadAll_SkipsMigrateWithoutDB(t *testing.T) {
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "a", events: &events})

	require.NoError(t, r.LoadAll(nil))
	assert.Equal(t, []string{"init a"}, events)
}

func TestLoadAll_InitFailure(t *testing.T) {
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "a", initErr: errors.New("boom"), events: &events})
	r.Register(&fakeModule{id: "b", events: &events})

	err := r.LoadAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake a")
	assert.NotContains(t, events, "init b")
}

func TestRegister_ReplacesSameID(t *testing.T) {
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "a", events: &events})
	second := &fakeModule{id: "a", core: true, events: &events}
	r.Register(second)

	modules := r.ListModules()
	require.Len(t, modules, 1)
	got, ok := r.GetModule("a")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestDisableModule(t *testing.T) {
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "core", core: true, events: &events})
	r.Register(&fakeModule{id: "extra", events: &events})

	assert.Error(t, r.DisableModule("core"))
	assert.Error(t, r.DisableModule("missing"))
	require.NoError(t, r.DisableModule("extra"))

	require.NoError(t, r.LoadAll(nil))
	assert.Equal(t, []string{"init core"}, events)
}

func TestRegisterRoutesAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var events []string
	r := NewRegistry()
	r.Register(&fakeModule{id: "a", events: &events})
	r.Register(plainModule{id: "plain"})
	require.NoError(t, r.LoadAll(nil))

	router := gin.New()
	r.RegisterRoutes(router)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a", w.Body.String())

	health := r.Health(context.Background())
	require.Len(t, health, 1)
	assert.Equal(t, HealthStateHealthy, health["a"].Status)
}

func TestReloadAndShutdownErrors(t *testing.T) {
	var events []string
	r := NewRegistry()
	m := &fakeModule{id: "a", stopErr: errors.New("stuck"), events: &events}
	r.Register(m)
	require.NoError(t, r.LoadAll(nil))

	cfg := config.DefaultConfig()
	require.NoError(t, r.Reload(cfg))
	assert.Same(t, cfg, m.reloaded)

	err := r.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")

	// nothing is loaded after shutdown
	assert.Empty(t, r.Health(context.Background()))
}
