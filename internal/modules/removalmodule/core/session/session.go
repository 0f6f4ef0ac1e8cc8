package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/modules/removalmodule/core/compositor"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/geometry"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/masks"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/media"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/validator"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// InputValidator accepts candidate files.
type InputValidator interface {
	Validate(ctx context.Context, in validator.InputFile) (*media.VideoSource, error)
}

// Runner renders a source with masks applied.
type Runner interface {
	Run(ctx context.Context, src *media.VideoSource, masks []types.Mask, onProgress compositor.ProgressFunc) (*types.OutputAsset, error)
	Preview(ctx context.Context, dec media.FrameDecoder, pos time.Duration, masks []types.Mask) (*media.Frame, error)
}

// Hooks observe a session from outside. All are optional.
type Hooks struct {
	// OnChange receives every published snapshot.
	OnChange func(types.Snapshot)
	// OnComplete may store the asset before Complete is published. It can
	// set asset.ContentHash.
	OnComplete func(ctx context.Context, sessionID string, asset *types.OutputAsset) error
	// OnDiscard undoes OnComplete for a run cancelled after the asset was
	// stored.
	OnDiscard func(sessionID string, asset *types.OutputAsset) error
}

// Deps are the collaborators shared by all sessions of a manager.
type Deps struct {
	Validator InputValidator
	Runner    Runner
	// Decoders opens short-lived decoders for previews.
	Decoders media.DecoderFactory
	Hooks    Hooks
	Now      func() time.Time
}

// subscriberBuffer is the per-observer snapshot queue. A slow observer
// loses the oldest snapshots, never the newest.
const subscriberBuffer = 16

// activeRun is the single in-flight processing run of a session.
type activeRun struct {
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Session is one authoring and processing session. It owns at most one
// source and at most one run.
type Session struct {
	id     string
	deps   Deps
	states *StateMachine
	logger hclog.Logger

	// loadMu serializes file loads so validation can run unlocked.
	loadMu sync.Mutex

	mu          sync.Mutex
	state       types.State
	source      *media.VideoSource
	masks       *masks.Store
	run         *activeRun
	closed      bool
	subscribers map[int]chan types.Snapshot
	nextSubID   int
	createdAt   time.Time
	updatedAt   time.Time
	lastActive  time.Time
}

// New creates an Idle session.
func New(id string, deps Deps, logger hclog.Logger) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now()
	return &Session{
		id:          id,
		deps:        deps,
		states:      NewStateMachine(),
		logger:      logger.Named("session").With("session_id", id),
		state:       types.Idle(),
		masks:       masks.NewStore(),
		subscribers: make(map[int]chan types.Snapshot),
		createdAt:   now,
		updatedAt:   now,
		lastActive:  now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the time of the last caller operation.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// State returns the current state.
func (s *Session) State() types.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current published view.
func (s *Session) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() types.Snapshot {
	snap := types.Snapshot{
		SessionID: s.id,
		State:     s.state,
		MaskCount: s.masks.Len(),
		Stroking:  s.masks.Stroking(),
		UpdatedAt: s.updatedAt,
	}
	if s.source != nil {
		snap.Source = s.source.SourceInfo()
	}
	return snap
}

// Subscribe returns a channel of snapshots starting with the current one.
// The channel is closed by the returned cancel func or when the session
// closes.
func (s *Session) Subscribe() (<-chan types.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.Snapshot, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// publishLocked fans the current snapshot out to observers.
func (s *Session) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	if s.deps.Hooks.OnChange != nil {
		s.deps.Hooks.OnChange(snap)
	}
}

// setStateLocked validates and applies a transition, then publishes.
func (s *Session) setStateLocked(next types.State) error {
	if err := s.states.Validate(s.id, s.state.Kind, next.Kind); err != nil {
		return err
	}
	s.state = next
	s.updatedAt = s.deps.Now()
	s.publishLocked()
	return nil
}

func (s *Session) touchLocked() {
	s.lastActive = s.deps.Now()
}

func (s *Session) closedErr(op string) error {
	return rerrors.StateError(op, fmt.Errorf("%w: session closed", rerrors.ErrInvalidState)).WithSession(s.id)
}

func (s *Session) stateErr(op string, want ...types.StateKind) error {
	return rerrors.StateError(op, fmt.Errorf("%w: %s not allowed in %s", rerrors.ErrInvalidState, op, s.state.Kind)).
		WithSession(s.id).
		WithDetail("state", string(s.state.Kind)).
		WithDetail("allowed", want)
}

// LoadFile validates in and, only once it is accepted, replaces the current
// source: any run is cancelled, the old source released and the masks
// cleared. A rejected file leaves the session untouched.
func (s *Session) LoadFile(ctx context.Context, in validator.InputFile) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closedErr("load_file")
	}
	s.touchLocked()
	s.mu.Unlock()

	src, err := s.deps.Validator.Validate(ctx, in)
	if err != nil {
		s.logger.Info("file rejected", "name", in.Name, "error", err)
		return err
	}

	s.stopRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = src.Release()
		return s.closedErr("load_file")
	}
	s.releaseSourceLocked()
	s.masks.Reset()
	s.source = src
	if err := s.setStateLocked(types.Editing()); err != nil {
		s.source = nil
		_ = src.Release()
		return err
	}
	s.logger.Info("file loaded", "name", src.Name, "width", src.Width(), "height", src.Height(), "duration", src.Duration())
	return nil
}

// stopRun cancels the active run, if any, and waits for it to settle.
func (s *Session) stopRun() {
	s.mu.Lock()
	run := s.run
	if run != nil {
		run.cancelled = true
	}
	s.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

func (s *Session) releaseSourceLocked() {
	if s.source == nil {
		return
	}
	if err := s.source.Release(); err != nil {
		s.logger.Warn("failed to release source", "name", s.source.Name, "error", err)
	}
	s.source = nil
}

// StartStroke begins a stroke at a display point. display is the on-screen
// rect of the video at capture time.
func (s *Session) StartStroke(p types.Point, display types.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	native, err := s.mapLocked("start_stroke", p, display)
	if err != nil {
		return err
	}
	s.masks.StartStroke(native)
	s.publishLocked()
	return nil
}

// ExtendStroke appends display points to the open stroke. Without an open
// stroke it is a no-op.
func (s *Session) ExtendStroke(display types.Rect, points ...types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		native, err := s.mapLocked("extend_stroke", p, display)
		if err != nil {
			return err
		}
		s.masks.ExtendStroke(native)
	}
	return nil
}

// FinalizeStroke closes the open stroke. It reports whether a mask was
// committed; strokes with fewer than three points are discarded.
func (s *Session) FinalizeStroke() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireEditingLocked("finalize_stroke"); err != nil {
		return false, err
	}
	committed := s.masks.FinalizeStroke()
	s.publishLocked()
	return committed, nil
}

// UndoLastMask removes the most recently committed mask.
func (s *Session) UndoLastMask() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireEditingLocked("undo"); err != nil {
		return false, err
	}
	removed := s.masks.UndoLastMask()
	if removed {
		s.publishLocked()
	}
	return removed, nil
}

// Masks returns a copy of the committed masks in native coordinates.
func (s *Session) Masks() []types.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masks.Masks()
}

// ClearMasks removes every committed mask and any open stroke.
func (s *Session) ClearMasks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireEditingLocked("clear_masks"); err != nil {
		return err
	}
	s.masks.Reset()
	s.publishLocked()
	return nil
}

func (s *Session) requireEditingLocked(op string) error {
	if s.closed {
		return s.closedErr(op)
	}
	s.touchLocked()
	if s.state.Kind != types.StateEditing {
		return s.stateErr(op, types.StateEditing)
	}
	return nil
}

func (s *Session) mapLocked(op string, p types.Point, display types.Rect) (types.Point, error) {
	if err := s.requireEditingLocked(op); err != nil {
		return types.Point{}, err
	}
	size := s.source.NativeSize()
	native, err := geometry.ToNative(p, display, size)
	if err != nil {
		return types.Point{}, rerrors.InvalidArgument(op, err).WithSession(s.id)
	}
	return geometry.Clamp(native, size), nil
}

// StartProcessing launches a run over the committed masks. It returns once
// the run is started; progress and the outcome are published as snapshots.
func (s *Session) StartProcessing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireEditingLocked("start_processing"); err != nil {
		return err
	}
	committed := s.masks.Masks()
	if len(committed) == 0 {
		return rerrors.PreconditionFailed(rerrors.ReasonNoMasks, "start_processing", rerrors.ErrNoMasks).WithSession(s.id)
	}
	if err := s.setStateLocked(types.Processing(0)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.run = run
	src := s.source

	s.logger.Info("processing started", "masks", len(committed))
	go s.execute(ctx, run, src, committed)
	return nil
}

func (s *Session) execute(ctx context.Context, run *activeRun, src *media.VideoSource, committed []types.Mask) {
	defer close(run.done)
	defer run.cancel()

	asset, err := s.deps.Runner.Run(ctx, src, committed, func(p float64) {
		s.reportProgress(run, p)
	})
	if err == nil && s.deps.Hooks.OnComplete != nil {
		if herr := s.deps.Hooks.OnComplete(ctx, s.id, asset); herr != nil {
			err = rerrors.Wrap(herr, rerrors.ErrorTypeInternal, "store_asset")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = nil

	switch {
	case run.cancelled || errors.Is(err, rerrors.ErrCancelled):
		// a cancel accepted while the asset was being stored still wins
		if err == nil {
			s.discardLocked(asset)
		}
		s.logger.Info("processing cancelled")
		s.releaseSourceLocked()
		s.masks.Reset()
		s.setOrLog(types.Idle())
	case err == nil:
		s.logger.Info("processing complete", "frames", asset.FrameCount, "bytes", len(asset.Data))
		s.setOrLog(types.Complete(asset))
	default:
		s.logger.Error("processing failed", "error", err)
		s.releaseSourceLocked()
		s.masks.Reset()
		s.setOrLog(types.Failed(err.Error()))
	}
}

func (s *Session) discardLocked(asset *types.OutputAsset) {
	if asset == nil || asset.ContentHash == "" || s.deps.Hooks.OnDiscard == nil {
		return
	}
	if err := s.deps.Hooks.OnDiscard(s.id, asset); err != nil {
		s.logger.Warn("failed to discard stored asset", "hash", asset.ContentHash, "error", err)
	}
}

func (s *Session) setOrLog(next types.State) {
	if err := s.setStateLocked(next); err != nil {
		s.logger.Error("state transition rejected", "error", err)
	}
}

// reportProgress publishes p if it advances the current run.
func (s *Session) reportProgress(run *activeRun, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run || run.cancelled || s.state.Kind != types.StateProcessing {
		return
	}
	if p <= s.state.Progress {
		return
	}
	if p >= 1 {
		p = compositor.MaxProgress
	}
	s.setOrLog(types.Processing(p))
}

// Cancel stops the active run. The session returns to Idle with its source
// released.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closedErr("cancel")
	}
	s.touchLocked()
	if s.state.Kind != types.StateProcessing || s.run == nil {
		err := s.stateErr("cancel", types.StateProcessing)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.stopRun()
	return nil
}

// Reset discards the source and masks and returns the session to Idle.
func (s *Session) Reset() error {
	s.stopRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closedErr("reset")
	}
	s.touchLocked()
	s.releaseSourceLocked()
	s.masks.Reset()
	if s.state.Kind == types.StateIdle {
		return nil
	}
	return s.setStateLocked(types.Idle())
}

// Preview renders the frame at pos with the committed masks applied. It
// uses its own decoder so it never disturbs a run.
func (s *Session) Preview(ctx context.Context, pos time.Duration) (*media.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.closedErr("preview")
	}
	s.touchLocked()
	if s.source == nil {
		err := s.stateErr("preview", types.StateEditing, types.StateProcessing, types.StateComplete)
		s.mu.Unlock()
		return nil, err
	}
	path, info := s.source.Path, s.source.Info
	committed := s.masks.Masks()
	s.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	if pos > info.Duration {
		pos = info.Duration
	}

	dec, err := s.deps.Decoders.Open(path, info)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.ErrorTypePlayback, "preview")
	}
	defer dec.Close()
	return s.deps.Runner.Preview(ctx, dec, pos, committed)
}

// Close cancels any run, releases the source and closes all observers.
// Further operations fail with a StateError.
func (s *Session) Close() {
	s.stopRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.releaseSourceLocked()
	s.masks.Reset()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.logger.Debug("session closed")
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Busy reports whether a run is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}
