package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Content store for finished assets and upload spooling
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Input acceptance limits
	Input InputConfig `yaml:"input" json:"input"`

	// Region removal filter
	Filter FilterConfig `yaml:"filter" json:"filter"`

	// Encoder and decoder binaries
	Encoder EncoderConfig `yaml:"encoder" json:"encoder"`

	// Run and session bounds
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Security configuration
	Security SecurityConfig `yaml:"security" json:"security"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"ERASER_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"ERASER_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"ERASER_READ_TIMEOUT" default:"5m"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"ERASER_WRITE_TIMEOUT" default:"5m"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"ERASER_MAX_HEADER_BYTES" default:"1048576"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"ERASER_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"ERASER_TRUSTED_PROXIES"`
}

// DatabaseConfig selects and tunes the session history database
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"eraser"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"eraser"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"ERASER_DATA_DIR" default:"./data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"ERASER_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// StorageConfig holds content store configuration
type StorageConfig struct {
	AssetDir  string `yaml:"asset_dir" json:"asset_dir" env:"ERASER_ASSET_DIR"`
	UploadDir string `yaml:"upload_dir" json:"upload_dir" env:"ERASER_UPLOAD_DIR"`
	// MinFreeBytes is the free-space floor below which the store refuses writes.
	MinFreeBytes int64         `yaml:"min_free_bytes" json:"min_free_bytes" env:"ERASER_MIN_FREE_BYTES" default:"536870912"`
	RetainFor    time.Duration `yaml:"retain_for" json:"retain_for" env:"ERASER_ASSET_RETENTION" default:"24h"`
	// HistoryRetention is how long session history rows are kept.
	HistoryRetention time.Duration `yaml:"history_retention" json:"history_retention" env:"ERASER_HISTORY_RETENTION" default:"720h"`
	PreviewQuality   int           `yaml:"preview_quality" json:"preview_quality" env:"ERASER_PREVIEW_QUALITY" default:"80"`
}

// InputConfig holds input acceptance limits
type InputConfig struct {
	MaxBytes    int64         `yaml:"max_bytes" json:"max_bytes" env:"ERASER_MAX_INPUT_BYTES" default:"1073741824"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration" env:"ERASER_MAX_INPUT_DURATION" default:"60s"`
}

// FilterConfig holds region removal filter parameters
type FilterConfig struct {
	BlurSigma       float64 `yaml:"blur_sigma" json:"blur_sigma" env:"ERASER_BLUR_SIGMA" default:"20"`
	FeatherSigma    float64 `yaml:"feather_sigma" json:"feather_sigma" env:"ERASER_FEATHER_SIGMA" default:"4"`
	FeatherWidth    float64 `yaml:"feather_width" json:"feather_width" env:"ERASER_FEATHER_WIDTH" default:"6"`
	FeatherOpacity  float64 `yaml:"feather_opacity" json:"feather_opacity" env:"ERASER_FEATHER_OPACITY" default:"0.15"`
	ReferenceHeight int     `yaml:"reference_height" json:"reference_height" env:"ERASER_FILTER_REFERENCE_HEIGHT" default:"720"`
	ScaleWithHeight bool    `yaml:"scale_with_height" json:"scale_with_height" env:"ERASER_FILTER_SCALE" default:"true"`
}

// EncoderConfig holds ffmpeg configuration
type EncoderConfig struct {
	FFmpegPath   string  `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"ERASER_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath  string  `yaml:"ffprobe_path" json:"ffprobe_path" env:"ERASER_FFPROBE_PATH" default:"ffprobe"`
	Codec        string  `yaml:"codec" json:"codec" env:"ERASER_VIDEO_CODEC" default:"libx264"`
	Preset       string  `yaml:"preset" json:"preset" env:"ERASER_PRESET" default:"veryfast"`
	CRF          int     `yaml:"crf" json:"crf" env:"ERASER_CRF" default:"20"`
	FrameRate    float64 `yaml:"frame_rate" json:"frame_rate" env:"ERASER_OUTPUT_FPS" default:"30"`
	MaxFrameRate float64 `yaml:"max_frame_rate" json:"max_frame_rate" env:"ERASER_MAX_DECODE_FPS" default:"60"`
}

// PipelineConfig bounds runs and sessions
type PipelineConfig struct {
	FrameQueue      int           `yaml:"frame_queue" json:"frame_queue" env:"ERASER_FRAME_QUEUE" default:"4"`
	SinkQueue       int           `yaml:"sink_queue" json:"sink_queue" env:"ERASER_SINK_QUEUE" default:"4"`
	MinTimeout      time.Duration `yaml:"min_timeout" json:"min_timeout" env:"ERASER_MIN_TIMEOUT" default:"30s"`
	TimeoutFactor   float64       `yaml:"timeout_factor" json:"timeout_factor" env:"ERASER_TIMEOUT_FACTOR" default:"10"`
	MaxSessions     int           `yaml:"max_sessions" json:"max_sessions" env:"ERASER_MAX_SESSIONS" default:"16"`
	SessionTTL      time.Duration `yaml:"session_ttl" json:"session_ttl" env:"ERASER_SESSION_TTL" default:"30m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"ERASER_CLEANUP_INTERVAL" default:"1m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"ERASER_LOG_LEVEL" default:"info"`
	Format       string `yaml:"format" json:"format" env:"ERASER_LOG_FORMAT" default:"json"`
	Output       string `yaml:"output" json:"output" env:"ERASER_LOG_OUTPUT" default:"stdout"`
	FilePath     string `yaml:"file_path" json:"file_path" env:"ERASER_LOG_FILE"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"ERASER_LOG_COLORS" default:"false"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	// DownloadToken, when set, must accompany asset downloads.
	DownloadToken  string   `yaml:"download_token" json:"-" env:"ERASER_DOWNLOAD_TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"ERASER_ALLOWED_ORIGINS"`
	SecureHeaders  bool     `yaml:"secure_headers" json:"secure_headers" env:"ERASER_SECURE_HEADERS" default:"true"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	cfg := DefaultConfig()
	applyDerivedConfig(cfg)
	return &ConfigManager{
		config:   cfg,
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   5 * time.Minute,
			MaxHeaderBytes: 1 << 20,
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "eraser",
			Database:        "eraser",
			DataDir:         "./data",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Storage: StorageConfig{
			MinFreeBytes:     512 << 20,
			RetainFor:        24 * time.Hour,
			HistoryRetention: 30 * 24 * time.Hour,
			PreviewQuality:   80,
		},
		Input: InputConfig{
			MaxBytes:    1 << 30,
			MaxDuration: 60 * time.Second,
		},
		Filter: FilterConfig{
			BlurSigma:       20,
			FeatherSigma:    4,
			FeatherWidth:    6,
			FeatherOpacity:  0.15,
			ReferenceHeight: 720,
			ScaleWithHeight: true,
		},
		Encoder: EncoderConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			Codec:        "libx264",
			Preset:       "veryfast",
			CRF:          20,
			FrameRate:    30,
			MaxFrameRate: 60,
		},
		Pipeline: PipelineConfig{
			FrameQueue:      4,
			SinkQueue:       4,
			MinTimeout:      30 * time.Second,
			TimeoutFactor:   10,
			MaxSessions:     16,
			SessionTTL:      30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			SecureHeaders:  true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	newConfig, err := readConfig(configPath)
	if err != nil {
		return err
	}

	oldConfig := cm.config
	cm.configPath = configPath
	cm.config = newConfig

	// Notify watchers of config change
	for _, watcher := range cm.watchers {
		go watcher(oldConfig, newConfig)
	}

	log.Printf("✅ Configuration loaded successfully")
	return nil
}

// readConfig builds a config from defaults, the file at configPath and the
// environment, in that order.
func readConfig(configPath string) (*Config, error) {
	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		log.Printf("✅ Configuration loaded from file: %s", configPath)
	}

	// Override with environment variables
	if err := loadFromEnv(newConfig); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := validateConfig(newConfig); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	applyDerivedConfig(newConfig)
	return newConfig, nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the file the configuration was loaded from.
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return saveToFile(cm.configPath, cm.config)
}

// Helper methods

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

// loadStructFromEnv overrides fields whose env variable is set. Defaults
// live in DefaultConfig so a file value is never replaced by a default tag.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Input.MaxBytes <= 0 {
		return fmt.Errorf("invalid max input size: %d", config.Input.MaxBytes)
	}

	if config.Input.MaxDuration <= 0 {
		return fmt.Errorf("invalid max input duration: %s", config.Input.MaxDuration)
	}

	if config.Filter.BlurSigma <= 0 {
		return fmt.Errorf("invalid blur sigma: %v", config.Filter.BlurSigma)
	}

	if config.Filter.FeatherOpacity < 0 || config.Filter.FeatherOpacity > 1 {
		return fmt.Errorf("invalid feather opacity: %v", config.Filter.FeatherOpacity)
	}

	if config.Encoder.FrameRate <= 0 {
		return fmt.Errorf("invalid output frame rate: %v", config.Encoder.FrameRate)
	}

	if config.Encoder.CRF < 0 || config.Encoder.CRF > 51 {
		return fmt.Errorf("invalid crf: %d", config.Encoder.CRF)
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "eraser.db")
	}

	if config.Storage.AssetDir == "" {
		config.Storage.AssetDir = filepath.Join(config.Database.DataDir, "assets")
	}

	if config.Storage.UploadDir == "" {
		config.Storage.UploadDir = filepath.Join(config.Database.DataDir, "uploads")
	}

	if config.Encoder.MaxFrameRate > 0 && config.Encoder.FrameRate > config.Encoder.MaxFrameRate {
		config.Encoder.FrameRate = config.Encoder.MaxFrameRate
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
