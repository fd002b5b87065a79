package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/export"
	"github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
)

type timetableStore interface {
	Replace(ctx context.Context, exec sqlx.ExtContext, rows []models.Timetable) error
	ListBySchool(ctx context.Context, schoolID string) ([]models.Timetable, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type calendarRenderer interface {
	Render(name string, events []export.CalendarEvent, stamp time.Time) ([]byte, error)
}

// TimetableServiceConfig governs generation behaviour.
type TimetableServiceConfig struct {
	Engine      engine.Options
	ProposalTTL time.Duration
	CacheTTL    time.Duration
	Calendar    CalendarConfig
}

// CalendarConfig places periods on the clock for calendar exports.
type CalendarConfig struct {
	// DayStart is the offset of period 1 from midnight.
	DayStart     time.Duration
	PeriodLength time.Duration
	Location     *time.Location
}

// TimetableService loads school data, runs the engine and manages proposals
// and stored timetables.
type TimetableService struct {
	data       schoolDataReader
	prefs      teacherPreferenceReader
	timetables timetableStore
	tx         txProvider
	cache      *CacheService
	proposals  proposalStore
	metrics    *MetricsService
	csv        documentRenderer
	pdf        documentRenderer
	xlsx       documentRenderer
	ics        calendarRenderer
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        TimetableServiceConfig
	now        func() time.Time
}

// NewTimetableService wires the timetable pipeline. When the cache is enabled
// proposals live in Redis, otherwise in process memory.
func NewTimetableService(
	data schoolDataReader,
	prefs teacherPreferenceReader,
	timetables timetableStore,
	tx txProvider,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableServiceConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	if cfg.Calendar.DayStart <= 0 {
		cfg.Calendar.DayStart = 7 * time.Hour
	}
	if cfg.Calendar.PeriodLength <= 0 {
		cfg.Calendar.PeriodLength = 45 * time.Minute
	}
	if cfg.Calendar.Location == nil {
		cfg.Calendar.Location = time.UTC
	}
	svc := &TimetableService{
		data:       data,
		prefs:      prefs,
		timetables: timetables,
		tx:         tx,
		cache:      cache,
		metrics:    metrics,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		xlsx:       export.NewXLSXExporter(),
		ics:        export.NewICSExporter(),
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
	if cache.Enabled() {
		svc.proposals = &cacheProposalStore{cache: cache, now: svc.clock}
	} else {
		svc.proposals = newMemoryProposalStore(svc.clock)
	}
	return svc
}

func (s *TimetableService) clock() time.Time {
	return s.now()
}

// Generate runs the engine over the school's current data. The result is kept
// as a proposal; unless the request is a dry run it is also persisted.
func (s *TimetableService) Generate(ctx context.Context, schoolID string, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable generation payload")
	}
	in, err := s.LoadInput(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	opts := s.options(req)
	opts.Logger = s.logger.With(zap.String("request_id", requestid.FromContext(ctx)))

	started := time.Now()
	result, err := engine.Generate(ctx, in, opts)
	if err != nil {
		s.metrics.ObserveGeneration(outcomeOf(err), time.Since(started), 0, 0)
		return nil, mapEngineError(err)
	}
	s.metrics.ObserveGeneration(outcomeSuccess, result.Stats.Duration, result.Stats.Steps, result.Quality.Total)

	now := s.now().UTC()
	proposal := timetableProposal{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		Records:   result.Records,
		Quality:   result.Quality,
		Stats:     result.Stats,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ProposalTTL),
	}
	resp := &dto.GenerateTimetableResponse{
		ProposalID: proposal.ID,
		Mode:       "preview",
		SchoolID:   schoolID,
		Records:    proposal.Records,
		Quality:    proposal.Quality,
		Stats:      proposal.Stats,
		ExpiresAt:  proposal.ExpiresAt,
	}

	if !req.IsDryRun() {
		ids, err := s.persist(ctx, proposal)
		if err != nil {
			return nil, err
		}
		resp.Mode = "saved"
		resp.TimetableIDs = ids
		return resp, nil
	}

	if err := s.proposals.Save(ctx, proposal); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proposal")
	}
	return resp, nil
}

// Save persists a cached proposal. Proposals of other schools are refused.
func (s *TimetableService) Save(ctx context.Context, schoolID, proposalID string) (*dto.SaveProposalResponse, error) {
	proposal, ok, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read proposal")
	}
	if !ok {
		return nil, appErrors.ErrProposalExpired
	}
	if proposal.SchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "proposal belongs to another school")
	}

	ids, err := s.persist(ctx, proposal)
	if err != nil {
		return nil, err
	}
	if err := s.proposals.Delete(ctx, proposalID); err != nil {
		s.logger.Warn("failed to drop saved proposal", zap.String("proposal_id", proposalID), zap.Error(err))
	}
	return &dto.SaveProposalResponse{ProposalID: proposalID, SchoolID: schoolID, TimetableIDs: ids}, nil
}

// List returns the school's stored timetables. The boolean reports a cache hit.
func (s *TimetableService) List(ctx context.Context, schoolID string) ([]dto.StoredTimetable, bool, error) {
	var cached []dto.StoredTimetable
	if hit, err := s.cache.Get(ctx, storedTimetablesKey(schoolID), &cached); err == nil && hit {
		return cached, true, nil
	}

	rows, err := s.timetables.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	out := make([]dto.StoredTimetable, 0, len(rows))
	for _, row := range rows {
		var record engine.TimetableRecord
		if err := json.Unmarshal(row.TimetableData, &record); err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored timetable is corrupt")
		}
		out = append(out, dto.StoredTimetable{
			ID:        row.ID,
			StreamID:  row.StreamID,
			Timetable: record,
			Legacy:    record.Legacy(),
			Score:     row.Score,
			UpdatedAt: row.UpdatedAt,
		})
	}
	_ = s.cache.Set(ctx, storedTimetablesKey(schoolID), out, s.cfg.CacheTTL)
	return out, false, nil
}

func (s *TimetableService) persist(ctx context.Context, proposal timetableProposal) (ids []string, err error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	rows := make([]models.Timetable, 0, len(proposal.Records))
	for _, record := range proposal.Records {
		payload, marshalErr := json.Marshal(record)
		if marshalErr != nil {
			return nil, appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode timetable")
		}
		rows = append(rows, models.Timetable{
			SchoolID:      proposal.SchoolID,
			StreamID:      record.StreamID,
			TimetableData: types.JSONText(payload),
			GeneratedBy:   record.GeneratedBy,
			TemplateType:  record.TemplateType,
			Score:         record.Score,
		})
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.timetables.Replace(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist timetables")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetables")
		return nil, err
	}

	_ = s.cache.Delete(ctx, storedTimetablesKey(proposal.SchoolID))
	ids = make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	s.logger.Info("timetables saved", zap.String("school_id", proposal.SchoolID), zap.String("proposal_id", proposal.ID), zap.Int("streams", len(rows)))
	return ids, nil
}

func (s *TimetableService) options(req dto.GenerateTimetableRequest) engine.Options {
	opts := s.cfg.Engine
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.MaxSteps != nil {
		opts.MaxSteps = *req.MaxSteps
	}
	if req.TimeBudgetMs != nil {
		opts.TimeBudget = time.Duration(*req.TimeBudgetMs) * time.Millisecond
	}
	if req.Parallel != nil {
		opts.Parallel = *req.Parallel
	}
	return opts
}
