package lifecycle

import (
	"sync"
	"time"

	"github.com/keelframework/keel/pkg/config"
	"github.com/keelframework/keel/pkg/system"
	"github.com/keelframework/keel/pkg/telemetry"
)

// Detector is the external change-detection collaborator consulted by
// Reload. It lists the sources that changed since the last check; draining
// it is what "reloading code" means to the supervisor.
type Detector interface {
	Changed() ([]string, error)
}

// Supervisor is the single-writer owner of the global lifecycle state.
//
// One mutex guards the tuple (config, expanded config, system state, last
// error, phase). Every operation and every predicate acquires it for its
// full duration, component callbacks included: operations block the caller
// until they finish, and no two goroutines ever observe a torn transition.
// The supervisor provides no cancellation or timeout; a hung component
// call blocks the lock until it returns.
type Supervisor struct {
	mu sync.Mutex

	resolver system.Resolver
	detector Detector
	log      *telemetry.Logger
	metrics  *telemetry.Metrics

	cfg      system.Config
	expanded system.Config
	state    system.State
	lastErr  error
	phase    Phase
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithLogger attaches a logger; transitions are logged through a
// "lifecycle" component child.
func WithLogger(log *telemetry.Logger) Option {
	return func(s *Supervisor) { s.log = log.Component("lifecycle") }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithDetector attaches the change detector consulted by Reload.
func WithDetector(d Detector) Option {
	return func(s *Supervisor) { s.detector = d }
}

// New creates a stopped Supervisor dispatching through resolver.
func New(resolver system.Resolver, opts ...Option) *Supervisor {
	s := &Supervisor{
		resolver: resolver,
		log:      telemetry.Nop(),
		metrics:  telemetry.NewMetrics(telemetry.MetricsConfig{}),
		phase:    PhaseStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is a consistent snapshot of the supervisor's observable state.
type Status struct {
	// Phase is the current lifecycle phase.
	Phase Phase

	// Err is the failure record, set while phase is failed.
	Err error

	// Keys are the instantiated component keys, if state exists.
	Keys []string
}

// Status returns a consistent snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Phase: s.phase, Err: s.lastErr}
	if s.state != nil {
		st.Keys = s.state.Keys()
	}
	return st
}

// Phase returns the current phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the failure record, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// One predicate per phase value.

// IsStopped reports phase == stopped.
func (s *Supervisor) IsStopped() bool { return s.Phase() == PhaseStopped }

// IsStarting reports phase == starting.
func (s *Supervisor) IsStarting() bool { return s.Phase() == PhaseStarting }

// IsRunning reports phase == running.
func (s *Supervisor) IsRunning() bool { return s.Phase() == PhaseRunning }

// IsStopping reports phase == stopping.
func (s *Supervisor) IsStopping() bool { return s.Phase() == PhaseStopping }

// IsSuspending reports phase == suspending.
func (s *Supervisor) IsSuspending() bool { return s.Phase() == PhaseSuspending }

// IsSuspended reports phase == suspended.
func (s *Supervisor) IsSuspended() bool { return s.Phase() == PhaseSuspended }

// IsResuming reports phase == resuming.
func (s *Supervisor) IsResuming() bool { return s.Phase() == PhaseResuming }

// IsFailed reports phase == failed.
func (s *Supervisor) IsFailed() bool { return s.Phase() == PhaseFailed }

// Configure loads and merges config from the given sources and validates
// it by expansion. The phase is unchanged whether it succeeds or fails; a
// config load error is surfaced to the caller and recorded nowhere.
//
// The expanded form is retained only when the system is live (live
// reconfiguration); while stopped it is recomputed by the next Start, so
// expanded config exists exactly when the phase is not stopped.
func (s *Supervisor) Configure(opts config.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("configure", time.Now())

	if opts.Resolver == nil {
		opts.Resolver = s.resolver
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	expanded, err := system.Expand(s.resolver, cfg)
	if err != nil {
		return err
	}

	s.cfg = cfg
	if s.phase != PhaseStopped {
		s.expanded = expanded
	}
	s.log.WithPhase(string(s.phase)).Infof("configured %d keys", len(cfg.Keys()))
	return nil
}

// Start brings the system up.
//
// With no keys: valid while stopped (full instantiation) or suspended
// (delegates to Resume). With keys: valid in any phase; the requested keys
// and their dependencies are instantiated and merged into the existing
// state, and the phase is unaffected unless it was stopped. A component
// failure moves the phase to failed, retaining the error and whatever
// partial state had been built.
func (s *Supervisor) Start(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("start", time.Now())
	return s.startLocked(keys)
}

func (s *Supervisor) startLocked(keys []string) error {
	if s.phase == PhaseSuspended && len(keys) == 0 {
		return s.resumeLocked(nil)
	}
	if s.phase != PhaseStopped && len(keys) == 0 {
		return phaseError("start", s.phase)
	}
	if s.cfg == nil {
		return system.NewConfigLoadError("start: no configuration loaded", nil)
	}

	fromStopped := s.phase == PhaseStopped
	if fromStopped {
		s.transition(PhaseStarting)
		expanded, err := system.Expand(s.resolver, s.cfg)
		if err != nil {
			return s.fail(err)
		}
		s.expanded = expanded
	}

	state, err := system.InitInto(s.resolver, s.expanded, s.state, keys...)
	if err != nil {
		return s.fail(err)
	}
	s.state = state

	if fromStopped {
		s.transition(PhaseRunning)
	}
	s.log.Infof("started %d keys", len(state.Keys()))
	return nil
}

// Stop tears the system down.
//
// With no keys the whole state is halted in reverse init order, the state
// and expanded config are discarded, and the phase becomes stopped. This is
// also the recovery path out of failed, tearing down whatever partial state
// exists. With keys, only those keys are halted and removed from the
// state and the phase is untouched. Stopping an already stopped system is
// a no-op.
func (s *Supervisor) Stop(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("stop", time.Now())
	return s.stopLocked(keys)
}

func (s *Supervisor) stopLocked(keys []string) error {
	if s.phase == PhaseStopped {
		return nil
	}

	if len(keys) > 0 {
		if s.state == nil {
			return nil
		}
		if err := system.Halt(s.resolver, s.state, keys...); err != nil {
			return s.fail(err)
		}
		s.removeKeys(keys)
		s.log.Infof("stopped %d keys", len(keys))
		return nil
	}

	s.transition(PhaseStopping)
	if s.state != nil {
		if err := system.Halt(s.resolver, s.state); err != nil {
			return s.fail(err)
		}
	}
	s.state = nil
	s.expanded = nil
	s.lastErr = nil
	s.transition(PhaseStopped)
	s.log.Info("stopped")
	return nil
}

// Suspend pauses a running system: suspend behaviors run in reverse init
// order and the phase becomes suspended. Keys narrow suspension to a
// subset. Valid only while running.
func (s *Supervisor) Suspend(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("suspend", time.Now())

	if s.phase != PhaseRunning {
		return phaseError("suspend", s.phase)
	}
	s.transition(PhaseSuspending)
	state, err := system.Suspend(s.resolver, s.state, keys...)
	if err != nil {
		return s.fail(err)
	}
	s.state = state
	s.transition(PhaseSuspended)
	s.log.Info("suspended")
	return nil
}

// Resume brings a suspended system back to running, giving each resume
// behavior the fresh expanded config value for its key. While stopped it
// behaves as Start. Any other phase is an error.
func (s *Supervisor) Resume(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("resume", time.Now())

	if s.phase == PhaseStopped {
		return s.startLocked(keys)
	}
	return s.resumeLocked(keys)
}

func (s *Supervisor) resumeLocked(keys []string) error {
	if s.phase != PhaseSuspended {
		return phaseError("resume", s.phase)
	}
	s.transition(PhaseResuming)
	state, err := system.Resume(s.resolver, s.expanded, s.state, keys...)
	if err != nil {
		return s.fail(err)
	}
	s.state = state
	s.transition(PhaseRunning)
	s.log.Info("resumed")
	return nil
}

// Restart stops the system and starts it again in one serialized
// operation.
func (s *Supervisor) Restart(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("restart", time.Now())

	if err := s.stopLocked(nil); err != nil {
		return err
	}
	return s.startLocked(keys)
}

// Reload picks up changed config sources. While stopped it only drains the
// change detector; otherwise it stops the system, drains the detector,
// recomputes the merge from the config's provenance record, and starts
// again. It inherits the failure paths of Stop and Start.
func (s *Supervisor) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("reload", time.Now())

	wasStopped := s.phase == PhaseStopped
	if !wasStopped {
		if err := s.stopLocked(nil); err != nil {
			return err
		}
	}

	if s.detector != nil {
		changed, err := s.detector.Changed()
		if err != nil {
			return err
		}
		if len(changed) > 0 {
			s.log.Infof("reloading after %d changed sources", len(changed))
		}
	}

	if wasStopped {
		return nil
	}

	if config.ProvenanceOf(s.cfg) != nil {
		cfg, err := config.Reload(s.cfg, s.resolver)
		if err != nil {
			return err
		}
		s.cfg = cfg
	}
	return s.startLocked(nil)
}

// fail records a transition failure: the phase becomes failed, the error
// is retained, and any partial state the error carries replaces the
// current state so a subsequent Stop can tear it down.
func (s *Supervisor) fail(err error) error {
	s.lastErr = err
	if partial := system.PartialStateOf(err); partial != nil {
		s.state = partial
	}
	s.transition(PhaseFailed)
	kind := system.KindOf(err)
	if kind == "" {
		kind = "unclassified"
	}
	s.metrics.ObserveError(string(kind))
	log := s.log.WithError(err)
	if key := system.KeyOf(err); key != "" {
		log = log.WithKey(key)
	}
	log.Error("transition failed")
	return err
}

// transition moves to the next phase, recording it.
func (s *Supervisor) transition(to Phase) {
	from := s.phase
	s.phase = to
	s.metrics.ObserveTransition(string(from), string(to))
	s.log.Debugf("phase %s -> %s", from, to)
}

// removeKeys drops halted keys from the state and its recorded order.
func (s *Supervisor) removeKeys(keys []string) {
	order := s.state.Order()
	kept := order[:0]
	removed := make(map[string]bool, len(keys))
	for _, key := range keys {
		removed[key] = true
		delete(s.state, key)
	}
	for _, key := range order {
		if !removed[key] {
			kept = append(kept, key)
		}
	}
	s.state[system.MetaOrder] = kept
}

// observe records an operation duration; used via defer at entry.
func (s *Supervisor) observe(op string, start time.Time) {
	s.metrics.ObserveOperation(op, time.Since(start))
}
