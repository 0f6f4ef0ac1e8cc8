package removalmodule

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/modules/removalmodule/api"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/compositor"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/filter"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/session"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/sink"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/storage"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/validator"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// Backends are the media tools behind a Service. Nil fields get the ffmpeg
// implementations from the encoder config.
type Backends struct {
	Prober    media.Prober
	Decoders  media.DecoderFactory
	Encoders  media.EncoderFactory
	FreeSpace storage.FreeSpaceFunc
}

// capabilityProber is implemented by encoder factories that can check
// their toolchain.
type capabilityProber interface {
	Available(ctx context.Context) error
}

// Service is the assembled removal pipeline: validation, compositing,
// sessions, history and the content store.
type Service struct {
	Sessions   *session.Manager
	History    *session.Store
	Assets     *storage.ContentStore
	Compositor *compositor.Compositor
	Handler    *api.APIHandler

	capabilities capabilityProber
	freeSpace    storage.FreeSpaceFunc
	cfg          *config.Config
	logger       hclog.Logger

	stopJanitor chan struct{}
	janitorDone chan struct{}
	stopOnce    sync.Once
}

// FilterParams converts the filter config.
func FilterParams(cfg config.FilterConfig) filter.Params {
	return filter.Params{
		BlurSigma:       cfg.BlurSigma,
		FeatherSigma:    cfg.FeatherSigma,
		FeatherWidth:    cfg.FeatherWidth,
		FeatherOpacity:  cfg.FeatherOpacity,
		ReferenceHeight: cfg.ReferenceHeight,
		ScaleWithHeight: cfg.ScaleWithHeight,
	}
}

func defaultBackends(cfg *config.Config, b Backends, logger hclog.Logger) Backends {
	if b.Prober == nil {
		b.Prober = media.NewFFprobe(cfg.Encoder.FFprobePath, media.ExecRunner{}, logger)
	}
	if b.Decoders == nil {
		b.Decoders = &media.FFmpegDecoderFactory{
			FFmpegPath:   cfg.Encoder.FFmpegPath,
			MaxFrameRate: cfg.Encoder.MaxFrameRate,
			Launch:       media.ExecLauncher,
			Logger:       logger,
		}
	}
	if b.Encoders == nil {
		b.Encoders = &media.FFmpegEncoderFactory{
			Options: media.EncoderOptions{
				FFmpegPath: cfg.Encoder.FFmpegPath,
				Codec:      cfg.Encoder.Codec,
				Preset:     cfg.Encoder.Preset,
				CRF:        cfg.Encoder.CRF,
			},
			Launch: media.ExecLauncher,
			Runner: media.ExecRunner{},
			Logger: logger,
		}
	}
	if b.FreeSpace == nil {
		b.FreeSpace = storage.DiskFree
	}
	return b
}

// NewService builds the pipeline from cfg. db may be nil to run without
// history.
func NewService(db *gorm.DB, cfg *config.Config, backends Backends, logger hclog.Logger) (*Service, error) {
	backends = defaultBackends(cfg, backends, logger)

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	var minFree uint64
	if cfg.Storage.MinFreeBytes > 0 {
		minFree = uint64(cfg.Storage.MinFreeBytes)
	}
	assets, err := storage.NewContentStore(storage.Config{
		BaseDir:      cfg.Storage.AssetDir,
		MinFreeBytes: minFree,
		RetainFor:    cfg.Storage.RetainFor,
		FreeSpace:    backends.FreeSpace,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	comp := compositor.New(
		filter.New(FilterParams(cfg.Filter)),
		backends.Encoders,
		sink.Options{FrameRate: cfg.Encoder.FrameRate, QueueSize: cfg.Pipeline.SinkQueue, FilenamePrefix: "erased"},
		compositor.Config{
			FrameQueue:    cfg.Pipeline.FrameQueue,
			MinTimeout:    cfg.Pipeline.MinTimeout,
			TimeoutFactor: cfg.Pipeline.TimeoutFactor,
		},
		logger,
	)

	var history *session.Store
	if db != nil {
		history = session.NewStore(db, logger)
	}

	deps := session.Deps{
		Validator: validator.New(backends.Prober, backends.Decoders, validator.Limits{
			MaxBytes:    cfg.Input.MaxBytes,
			MaxDuration: cfg.Input.MaxDuration,
		}, logger),
		Runner:   comp,
		Decoders: backends.Decoders,
		Hooks: session.Hooks{
			OnComplete: func(ctx context.Context, id string, asset *types.OutputAsset) error {
				_, err := assets.Put(ctx, id, asset)
				return err
			},
			OnDiscard: func(id string, asset *types.OutputAsset) error {
				return assets.Discard(asset.ContentHash, id)
			},
		},
	}
	manager := session.NewManager(deps, history, session.Config{
		MaxSessions:     cfg.Pipeline.MaxSessions,
		SessionTTL:      cfg.Pipeline.SessionTTL,
		CleanupInterval: cfg.Pipeline.CleanupInterval,
	}, logger)

	s := &Service{
		Sessions:    manager,
		History:     history,
		Assets:      assets,
		Compositor:  comp,
		freeSpace:   backends.FreeSpace,
		cfg:         cfg,
		logger:      logger.Named("removal-service"),
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	if probe, ok := backends.Encoders.(capabilityProber); ok {
		s.capabilities = probe
	}

	opts := []api.Option{
		api.WithAssets(assets),
		api.WithAuthorizer(api.NewTokenAuthorizer(cfg.Security.DownloadToken)),
	}
	if history != nil {
		opts = append(opts, api.WithHistory(history))
	}
	if s.capabilities != nil {
		opts = append(opts, api.WithCapabilities(s.capabilities))
	}
	s.Handler = api.NewAPIHandler(manager, api.Config{
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: api.UploadLimit(cfg.Input.MaxBytes),
		PreviewQuality: cfg.Storage.PreviewQuality,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}, logger, opts...)

	if cfg.Pipeline.CleanupInterval > 0 {
		go s.runJanitor(cfg.Pipeline.CleanupInterval)
	} else {
		close(s.janitorDone)
	}
	return s, nil
}

// ApplyFilter swaps the filter used by later runs and previews.
func (s *Service) ApplyFilter(cfg config.FilterConfig) {
	next := FilterParams(cfg)
	if s.Compositor.Filter().Params() == next {
		return
	}
	s.Compositor.SetFilter(filter.New(next))
	s.logger.Info("filter parameters updated", "blur_sigma", next.BlurSigma, "feather_sigma", next.FeatherSigma)
}

func (s *Service) runJanitor(interval time.Duration) {
	defer close(s.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-s.stopJanitor:
			return
		}
	}
}

// Sweep purges stale assets that no session or history row names, then
// drops history rows older than the history retention.
func (s *Service) Sweep(now time.Time) {
	keep := s.liveAssetHashes()
	if s.History != nil {
		referenced, err := s.History.ReferencedAssets()
		if err != nil {
			// without the reference list nothing is safe to delete
			s.logger.Error("asset sweep skipped", "error", err)
			return
		}
		keep = append(keep, referenced...)
	}
	if _, err := s.Assets.Purge(keep); err != nil {
		s.logger.Error("asset purge failed", "error", err)
	}

	if s.History != nil && s.cfg.Storage.HistoryRetention > 0 {
		removed, err := s.History.PurgeBefore(now.Add(-s.cfg.Storage.HistoryRetention))
		if err != nil {
			s.logger.Error("history purge failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("purged session history", "count", removed)
		}
	}
}

func (s *Service) liveAssetHashes() []string {
	var hashes []string
	for _, snap := range s.Sessions.List() {
		sess, err := s.Sessions.Get(snap.SessionID)
		if err != nil {
			continue
		}
		if asset := sess.State().Asset; asset != nil && asset.ContentHash != "" {
			hashes = append(hashes, asset.ContentHash)
		}
	}
	return hashes
}

// Available reports whether the encoder toolchain can run.
func (s *Service) Available(ctx context.Context) error {
	if s.capabilities == nil {
		return nil
	}
	return s.capabilities.Available(ctx)
}

// FreeBytes reports the free space under the asset directory.
func (s *Service) FreeBytes(ctx context.Context) (uint64, error) {
	return s.freeSpace(ctx, s.cfg.Storage.AssetDir)
}

// Shutdown stops the janitor and closes every session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
	select {
	case <-s.janitorDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Sessions.Shutdown(ctx)
}
