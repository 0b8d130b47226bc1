package pregen

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/atlasmesh/tileserve/internal/errorreporting"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/metrics"
)

var (
	// ErrRunConflict is returned when a run is requested for a layer that
	// already has one in flight.
	ErrRunConflict = errors.New("pregeneration already running for layer")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("pregeneration run not found")
)

// Run is one tracked warming run. Counters live in Progress; Err is set only
// after Done() is closed.
type Run struct {
	ID        string
	Request   Request
	StartedAt time.Time
	Progress  *Progress

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed when the run finishes, fails or is cancelled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run's terminal error, nil while it is still active.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// RunStatus is the poll-friendly view of a run exposed over the admin API.
type RunStatus struct {
	ID        string   `json:"id"`
	Layer     string   `json:"layer"`
	ZoomMin   int      `json:"zoom_min"`
	ZoomMax   int      `json:"zoom_max"`
	SkipFresh bool     `json:"skip_fresh"`
	StartedAt string   `json:"started_at"`
	Error     string   `json:"error,omitempty"`
	Progress  Snapshot `json:"progress"`
}

// Status returns a snapshot of the run.
func (r *Run) Status() RunStatus {
	s := RunStatus{
		ID:        r.ID,
		Layer:     r.Request.Layer,
		ZoomMin:   r.Request.ZoomMin,
		ZoomMax:   r.Request.ZoomMax,
		SkipFresh: r.Request.SkipFresh,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		Progress:  r.Progress.Snapshot(),
	}
	if err := r.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.Error = err.Error()
	}
	return s
}

// Manager owns the run registry. At most one run may be active per layer;
// finished runs stay queryable until evicted by the next run for the same
// layer.
type Manager struct {
	walker *Walker

	mu     sync.Mutex
	runs   map[string]*Run
	active map[string]string // layer -> run ID
}

func NewManager(walker *Walker) *Manager {
	return &Manager{
		walker: walker,
		runs:   make(map[string]*Run),
		active: make(map[string]string),
	}
}

func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte("fallback"))
	}
	return hex.EncodeToString(b)
}

// Start validates the request, registers a run and walks it in the
// background. The run is detached from ctx so an admin request timeout does
// not kill a multi-hour walk; use Cancel for that.
func (m *Manager) Start(req Request) (*Run, error) {
	// Fail fast on bad layers or zoom bounds before registering anything.
	if _, _, _, err := m.walker.Plan(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if id, busy := m.active[req.Layer]; busy {
		m.mu.Unlock()
		return nil, errors.Join(ErrRunConflict, errors.New("active run "+id))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        newRunID(),
		Request:   req,
		StartedAt: time.Now(),
		Progress:  &Progress{},
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	// Evict the layer's previous finished run so the registry stays bounded
	// by the layer count.
	if prev, ok := m.lastRunForLayerLocked(req.Layer); ok {
		delete(m.runs, prev.ID)
	}
	m.runs[run.ID] = run
	m.active[req.Layer] = run.ID
	m.mu.Unlock()

	metrics.PregenActiveRuns.Inc()
	errorreporting.AddBreadcrumb("pregen",
		fmt.Sprintf("run %s started for layer %s z%d-%d", run.ID, req.Layer, req.ZoomMin, req.ZoomMax),
		sentry.LevelInfo)
	log := logger.WithComponent("pregen")
	log.Info("pregeneration run started",
		"run_id", run.ID, "layer", req.Layer,
		"zoom_min", req.ZoomMin, "zoom_max", req.ZoomMax,
		"skip_fresh", req.SkipFresh)

	go func() {
		defer cancel()
		err := m.walker.Run(runCtx, req, run.Progress)

		run.mu.Lock()
		run.err = err
		run.mu.Unlock()

		m.mu.Lock()
		if m.active[req.Layer] == run.ID {
			delete(m.active, req.Layer)
		}
		m.mu.Unlock()

		metrics.PregenActiveRuns.Dec()
		close(run.done)

		snap := run.Progress.Snapshot()
		if err != nil {
			log.Warn("pregeneration run ended early",
				"run_id", run.ID, "layer", req.Layer, "error", err,
				"completed", snap.Completed, "failed", snap.Failed)
			return
		}
		log.Info("pregeneration run finished",
			"run_id", run.ID, "layer", req.Layer,
			"planned", snap.Planned, "completed", snap.Completed,
			"empty", snap.Empty, "skipped", snap.Skipped, "failed", snap.Failed,
			"elapsed_seconds", snap.Elapsed)
	}()

	return run, nil
}

func (m *Manager) lastRunForLayerLocked(layer string) (*Run, bool) {
	for _, r := range m.runs {
		if r.Request.Layer == layer {
			return r, true
		}
	}
	return nil, false
}

// Get returns a run by ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// List returns every registered run, newest first.
func (m *Manager) List() []RunStatus {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	statuses := make([]RunStatus, len(runs))
	for i, r := range runs {
		statuses[i] = r.Status()
	}
	return statuses
}

// Cancel stops an active run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(id string) error {
	run, err := m.Get(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Shutdown cancels every active run and waits for their workers to drain.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
