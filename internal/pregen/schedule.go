package pregen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/atlasmesh/tileserve/internal/logger"
)

// ParseCronExpression returns the next run time after baseTime for a
// schedule expression. Supported forms are the named expressions (@hourly,
// @daily, @weekly, @monthly, @yearly) and "@every <duration>" where the
// duration accepts a trailing 'd' for days.
func ParseCronExpression(expr string, baseTime time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "@yearly" || expr == "@annually":
		return time.Date(baseTime.Year()+1, 1, 1, 0, 0, 0, 0, baseTime.Location()), nil
	case expr == "@monthly":
		year, month := baseTime.Year(), baseTime.Month()+1
		if month > 12 {
			month = 1
			year++
		}
		return time.Date(year, month, 1, 0, 0, 0, 0, baseTime.Location()), nil
	case expr == "@weekly":
		days := (7 - int(baseTime.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(baseTime.Year(), baseTime.Month(), baseTime.Day()+days, 0, 0, 0, 0, baseTime.Location()), nil
	case expr == "@daily":
		return time.Date(baseTime.Year(), baseTime.Month(), baseTime.Day()+1, 0, 0, 0, 0, baseTime.Location()), nil
	case expr == "@hourly":
		return baseTime.Add(time.Hour).Truncate(time.Hour), nil
	case strings.HasPrefix(expr, "@every "):
		return parseEveryDuration(strings.TrimPrefix(expr, "@every "), baseTime)
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule expression: %s", expr)
	}
}

func parseEveryDuration(duration string, baseTime time.Time) (time.Time, error) {
	// time.ParseDuration has no day unit, handle a trailing 'd' here.
	if strings.HasSuffix(duration, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(duration, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration: %s", duration)
		}
		return baseTime.Add(time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration: %s", duration)
	}
	return baseTime.Add(d), nil
}

// ValidateCronExpression reports whether expr is an expression
// ParseCronExpression can handle.
func ValidateCronExpression(expr string) error {
	_, err := ParseCronExpression(expr, time.Now())
	return err
}

// Scheduler triggers warming runs on a fixed schedule, one run per
// configured layer. A layer whose previous scheduled run is still active is
// skipped for that cycle rather than queued.
type Scheduler struct {
	mgr       *Manager
	expr      string
	layers    []string
	zoomMin   int
	zoomMax   int
	skipFresh bool
	stop      chan struct{}
}

// NewScheduler wires the manager to a schedule expression. Validate the
// expression with ValidateCronExpression before calling.
func NewScheduler(mgr *Manager, expr string, layers []string, zoomMin, zoomMax int, skipFresh bool) *Scheduler {
	return &Scheduler{
		mgr:       mgr,
		expr:      expr,
		layers:    layers,
		zoomMin:   zoomMin,
		zoomMax:   zoomMax,
		skipFresh: skipFresh,
		stop:      make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called, firing warming runs
// at each scheduled time. Run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	log := logger.WithComponent("pregen-scheduler")

	next, err := ParseCronExpression(s.expr, time.Now())
	if err != nil {
		log.Error("invalid schedule expression, scheduler not running", "expr", s.expr, "error", err)
		return
	}
	log.Info("warming scheduler started",
		"expr", s.expr, "layers", strings.Join(s.layers, ","),
		"next_run", next.Format(time.RFC3339))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("warming scheduler stopped by context")
			return
		case <-s.stop:
			log.Info("warming scheduler stopped")
			return
		case <-timer.C:
			s.fire(log)
			next, err = ParseCronExpression(s.expr, time.Now())
			if err != nil {
				log.Error("schedule expression became unparseable", "expr", s.expr, "error", err)
				return
			}
			timer.Reset(time.Until(next))
		}
	}
}

// Stop halts the scheduler loop. Active runs keep going; use
// Manager.Shutdown to stop those.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) fire(log *slog.Logger) {
	for _, layer := range s.layers {
		run, err := s.mgr.Start(Request{
			Layer:     layer,
			ZoomMin:   s.zoomMin,
			ZoomMax:   s.zoomMax,
			SkipFresh: s.skipFresh,
		})
		if errors.Is(err, ErrRunConflict) {
			log.Warn("scheduled warming skipped, previous run still active", "layer", layer)
			continue
		}
		if err != nil {
			log.Warn("scheduled warming failed to start", "layer", layer, "error", err)
			continue
		}
		log.Info("scheduled warming run started", "layer", layer, "run_id", run.ID)
	}
}
