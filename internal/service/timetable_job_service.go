package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
)

const timetableJobType = "timetable.generate"

type timetableGenerator interface {
	Generate(ctx context.Context, schoolID string, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

type timetableJobPayload struct {
	SchoolID string
	Request  dto.GenerateTimetableRequest
}

// TimetableJobConfig sizes the generation worker pool.
type TimetableJobConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
	// Retention is how long finished jobs stay queryable.
	Retention time.Duration
}

// TimetableJobService runs generation requests in the background.
type TimetableJobService struct {
	generator timetableGenerator
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
	retries   int
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*models.TimetableJob
}

// NewTimetableJobService wires the queue; call Start before submitting.
func NewTimetableJobService(generator timetableGenerator, metrics *MetricsService, logger *zap.Logger, cfg TimetableJobConfig) *TimetableJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	s := &TimetableJobService{
		generator: generator,
		metrics:   metrics,
		logger:    logger,
		retries:   cfg.Retries,
		retention: cfg.Retention,
		now:       time.Now,
		jobs:      make(map[string]*models.TimetableJob),
	}
	s.queue = jobs.NewQueue("timetables", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		OnFailure:  s.fail,
		Logger:     logger,
	})
	return s
}

// Start launches the workers.
func (s *TimetableJobService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (s *TimetableJobService) Stop() {
	s.queue.Stop()
}

// Submit queues a generation for schoolID.
func (s *TimetableJobService) Submit(ctx context.Context, schoolID string, req dto.GenerateTimetableRequest) (*models.TimetableJob, error) {
	now := s.now().UTC()
	job := &models.TimetableJob{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		Status:    models.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.prune(now)
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    timetableJobType,
		Payload: timetableJobPayload{SchoolID: schoolID, Request: req},
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, "QUEUE_FULL", http.StatusServiceUnavailable, "generation queue is full, retry later")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue generation")
	}
	s.metrics.MoveJob("", string(models.JobStatusQueued))
	s.logger.Info("timetable job queued", zap.String("job_id", job.ID), zap.String("school_id", schoolID))
	return &snapshot, nil
}

// Get returns a job of schoolID. Jobs of other schools are reported missing.
func (s *TimetableJobService) Get(schoolID, id string) (*models.TimetableJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.SchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *TimetableJobService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(timetableJobPayload)
	if !ok {
		return jobs.Permanent(errors.New("unexpected job payload"))
	}
	s.transition(job.ID, models.JobStatusRunning, func(j *models.TimetableJob) { j.Attempts = job.Attempt + 1 })

	resp, err := s.generator.Generate(ctx, payload.SchoolID, payload.Request)
	if err != nil {
		if isPermanentFailure(err) {
			return jobs.Permanent(err)
		}
		if job.Attempt < s.retries {
			s.transition(job.ID, models.JobStatusQueued, nil)
		}
		return err
	}

	s.transition(job.ID, models.JobStatusSucceeded, func(j *models.TimetableJob) { j.ProposalID = resp.ProposalID })
	return nil
}

func (s *TimetableJobService) fail(job jobs.Job, err error) {
	s.transition(job.ID, models.JobStatusFailed, func(j *models.TimetableJob) { j.Error = appErrors.FromError(err) })
}

func (s *TimetableJobService) transition(id string, to models.TimetableJobStatus, mutate func(*models.TimetableJob)) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	from := job.Status
	job.Status = to
	job.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(job)
	}
	s.mu.Unlock()
	s.metrics.MoveJob(string(from), string(to))
}

// prune drops finished jobs past retention. Caller holds the lock.
func (s *TimetableJobService) prune(now time.Time) {
	for id, job := range s.jobs {
		finished := job.Status == models.JobStatusSucceeded || job.Status == models.JobStatusFailed
		if finished && now.Sub(job.UpdatedAt) > s.retention {
			delete(s.jobs, id)
			s.metrics.MoveJob(string(job.Status), "")
		}
	}
}

// isPermanentFailure reports errors a retry cannot fix: anything blamed on the
// request or the school's data, and exhausted search budgets.
func isPermanentFailure(err error) bool {
	appErr := appErrors.FromError(err)
	return appErr.Status < 500 || appErr.Code == appErrors.ErrBudgetExceeded.Code
}
