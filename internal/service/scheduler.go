package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	// schedules name IANA zones; slim images ship without zoneinfo
	_ "time/tzdata"

	"github.com/jengzang/fieldscan-backend-go/internal/analysis"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

const defaultLocalTime = "06:00"

// ScheduleStore is the parcel access the scheduler needs.
type ScheduleStore interface {
	ListScheduled(ctx context.Context) ([]*models.Parcel, error)
	SetLastRunLocalDate(ctx context.Context, id int64, date string) error
}

// AnalysisJobStore is the analysis job access the scheduler needs.
type AnalysisJobStore interface {
	Create(ctx context.Context, job *models.AnalysisJob) error
	ListQueued(ctx context.Context) ([]*models.AnalysisJob, error)
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// ExportJobStore is the export job access the scheduler needs.
type ExportJobStore interface {
	ListQueued(ctx context.Context) ([]*models.ExportJob, error)
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// Scheduler queues scheduled analyses and sweeps abandoned jobs.
type Scheduler struct {
	parcels    ScheduleStore
	jobs       AnalysisJobStore
	exports    ExportJobStore
	dispatcher *Dispatcher
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// SchedulerDeps are the collaborators of a Scheduler.
type SchedulerDeps struct {
	Parcels    ScheduleStore
	Jobs       AnalysisJobStore
	Exports    ExportJobStore
	Dispatcher *Dispatcher
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		parcels:    deps.Parcels,
		jobs:       deps.Jobs,
		exports:    deps.Exports,
		dispatcher: deps.Dispatcher,
		staleAfter: deps.StaleAfter,
		now:        deps.Now,
		logger:     deps.Logger,
	}
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick sweeps stale jobs, then queues every parcel analysis that is due.
func (s *Scheduler) Tick(ctx context.Context) error {
	if _, err := s.ReconcileStale(ctx); err != nil {
		return err
	}
	_, err := s.QueueDue(ctx)
	return err
}

// QueueDue creates and dispatches one analysis job per due parcel.
func (s *Scheduler) QueueDue(ctx context.Context) (int, error) {
	parcels, err := s.parcels.ListScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled parcels: %w", err)
	}

	now := s.now()
	queued := 0
	for _, p := range parcels {
		localDate, due := Due(p.Schedule, now)
		if !due {
			continue
		}
		// mark first so a failing create does not re-queue on the next tick
		if err := s.parcels.SetLastRunLocalDate(ctx, p.ID, localDate); err != nil {
			return queued, err
		}
		radar := true
		job := &models.AnalysisJob{
			ParcelID: p.ID,
			Params:   models.AnalysisParams{IncludeRadarOverlay: &radar},
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			return queued, fmt.Errorf("failed to queue analysis for parcel %d: %w", p.ID, err)
		}
		s.logger.Info("scheduled analysis queued", "parcel_id", p.ID, "job_id", job.ID, "local_date", localDate)
		if s.dispatcher != nil {
			s.dispatcher.Submit(analysis.KindAnalysis, job.ID)
		}
		queued++
	}
	return queued, nil
}

// ReconcileStale fails jobs that have been RUNNING longer than the stale
// threshold. Runs are never resumed.
func (s *Scheduler) ReconcileStale(ctx context.Context) (int64, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	message := fmt.Sprintf("job abandoned: running for more than %s", s.staleAfter)

	failed, err := s.jobs.FailStale(ctx, cutoff, message)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile analysis jobs: %w", err)
	}
	if s.exports != nil {
		n, err := s.exports.FailStale(ctx, cutoff, message)
		if err != nil {
			return failed, fmt.Errorf("failed to reconcile export jobs: %w", err)
		}
		failed += n
	}
	if failed > 0 {
		s.logger.Warn("abandoned jobs failed", "count", failed)
	}
	return failed, nil
}

// Resume dispatches every QUEUED job, oldest first. It is called once at
// startup so jobs queued before a restart are not lost.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	jobs, err := s.jobs.ListQueued(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if s.dispatcher.Submit(analysis.KindAnalysis, j.ID) {
			n++
		}
	}
	if s.exports != nil {
		exports, err := s.exports.ListQueued(ctx)
		if err != nil {
			return n, err
		}
		for _, e := range exports {
			if s.dispatcher.Submit(analysis.KindExport, e.ID) {
				n++
			}
		}
	}
	return n, nil
}

// Due reports whether a schedule fires at now and the local date it fires
// for. A schedule is due when the local hour matches and the local minute
// falls in the same five minute bucket, on Mondays only for weekly
// schedules, and at most once per local date.
func Due(sch models.Schedule, now time.Time) (string, bool) {
	if !sch.Enabled {
		return "", false
	}
	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	hour, minute := ParseLocalTime(sch.LocalTime)
	if local.Hour() != hour || local.Minute()/5 != minute/5 {
		return "", false
	}
	if strings.ToLower(sch.Frequency) == models.FrequencyWeekly && local.Weekday() != time.Monday {
		return "", false
	}
	date := local.Format("2006-01-02")
	if sch.LastRunLocalDate == date {
		return "", false
	}
	return date, true
}

// ParseLocalTime parses HH:MM, falling back to 06:00.
func ParseLocalTime(value string) (hour, minute int) {
	if h, m, ok := parseClock(value); ok {
		return h, m
	}
	h, m, _ := parseClock(defaultLocalTime)
	return h, m
}

func parseClock(value string) (int, int, bool) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
