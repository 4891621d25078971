// Package generation ties rate limiting, the credit ledger and the pipeline
// into one billed operation. A debit is always matched by either a persisted
// generation record or a refund before Generate returns.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/metrics"
	"github.com/M-ajor19/quillify/internal/models"
	"github.com/M-ajor19/quillify/internal/pipeline"
	"github.com/M-ajor19/quillify/internal/ratelimit"
)

// CreditsPerGeneration is the price of one successful generation.
const CreditsPerGeneration = 1

type Ledger interface {
	DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (ledger.DebitResult, error)
	Refund(ctx context.Context, principalID, usageTxID uuid.UUID) (ledger.CreditResult, error)
}

type Limiter interface {
	Allow(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Result
	Now() time.Time
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type RecordStore interface {
	CreateRecord(ctx context.Context, g *models.GenerationRecord) error
	ListRecords(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.GenerationRecord, error)
}

// RefundScheduler durably retries a refund that could not be applied inline.
type RefundScheduler interface {
	ScheduleRefund(ctx context.Context, principalID, usageTxID uuid.UUID) error
}

type Config struct {
	MaxInputChars int              `yaml:"max_input_chars"`
	Timeout       time.Duration    `yaml:"timeout"`
	RefundTimeout time.Duration    `yaml:"refund_timeout"`
	RateLimit     ratelimit.Config `yaml:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		MaxInputChars: 10000,
		Timeout:       90 * time.Second,
		RefundTimeout: 10 * time.Second,
		RateLimit:     ratelimit.Config{Window: time.Minute, MaxRequests: 10},
	}
}

// Outcome is returned for a successful generation.
type Outcome struct {
	Variations       []string  `json:"variations"`
	CreditsRemaining int64     `json:"creditsRemaining"`
	RecordID         uuid.UUID `json:"recordId"`
}

type Service struct {
	ledger   Ledger
	limiter  Limiter
	pipeline Runner
	records  RecordStore
	refunds  RefundScheduler
	cfg      Config
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type Deps struct {
	Ledger   Ledger
	Limiter  Limiter
	Pipeline Runner
	Records  RecordStore
	Refunds  RefundScheduler // optional
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewService(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = def.MaxInputChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = def.RefundTimeout
	}
	if cfg.RateLimit.MaxRequests <= 0 || cfg.RateLimit.Window <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	return &Service{
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		pipeline: d.Pipeline,
		records:  d.Records,
		refunds:  d.Refunds,
		cfg:      cfg,
		metrics:  d.Metrics,
		log:      d.Logger,
	}
}

// Generate validates, rate limits, debits one credit and runs the pipeline.
// On any failure after the debit the credit is refunded before returning.
func (s *Service) Generate(ctx context.Context, principalID uuid.UUID, inputText, tone, format string) (Outcome, error) {
	req, err := s.validate(inputText, tone, format)
	if err != nil {
		s.metrics.Generation("rejected")
		return Outcome{}, err
	}

	rl := s.limiter.Allow(ctx, ratelimit.Key(ratelimit.OpGenerate, principalID.String()), s.cfg.RateLimit)
	if !rl.Allowed {
		s.metrics.Generation("rate_limited")
		return Outcome{}, apperr.RateLimited(rl.RetryAfter(s.limiter.Now()))
	}

	debit, err := s.ledger.DebitIfAvailable(ctx, principalID, CreditsPerGeneration)
	if err != nil {
		s.metrics.Generation("error")
		if errors.Is(err, ledger.ErrPrincipalNotFound) {
			return Outcome{}, apperr.Unauthenticated("unknown principal")
		}
		return Outcome{}, err
	}
	if !debit.Granted {
		s.metrics.Generation("insufficient_credits")
		return Outcome{}, apperr.InsufficientCredits()
	}
	usageTx := debit.Transaction.ID
	log := s.log.With("principal_id", principalID, "usage_tx_id", usageTx)

	result, err := s.run(ctx, req)
	s.metrics.PipelineDuration(string(result.Stage), result.Duration)
	if err != nil {
		log.Warn("generation failed, refunding", "stage", result.Stage, "error", err)
		s.refund(ctx, principalID, usageTx)
		s.metrics.Generation("failed")
		return Outcome{}, apperr.GenerationFailed(err)
	}

	record := &models.GenerationRecord{
		PrincipalID:        principalID,
		InputText:          req.InputText,
		OutputText:         result.Variations[0],
		Variations:         result.Variations,
		Format:             string(req.Format),
		Tone:               string(req.Tone),
		CreditsCharged:     CreditsPerGeneration,
		UsageTransactionID: &usageTx,
	}
	if err := s.persist(ctx, record); err != nil {
		log.Error("persist generation record failed, refunding", "error", err)
		s.refund(ctx, principalID, usageTx)
		s.metrics.Generation("error")
		return Outcome{}, apperr.Infrastructure(err)
	}

	s.metrics.Generation("succeeded")
	log.Info("generation succeeded", "record_id", record.ID, "variations", len(result.Variations))
	return Outcome{
		Variations:       result.Variations,
		CreditsRemaining: debit.RemainingBalance,
		RecordID:         record.ID,
	}, nil
}

// History lists a principal's generation records, newest first.
func (s *Service) History(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.records.ListRecords(ctx, principalID, limit)
	if err != nil {
		return nil, apperr.Infrastructure(fmt.Errorf("list generation records: %w", err))
	}
	return list, nil
}

func (s *Service) validate(inputText, tone, format string) (pipeline.Request, error) {
	text := strings.TrimSpace(inputText)
	if text == "" {
		return pipeline.Request{}, apperr.Validation("input text is required")
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxInputChars {
		return pipeline.Request{}, apperr.Validation(fmt.Sprintf("input text is %d characters, maximum is %d", n, s.cfg.MaxInputChars))
	}
	t, err := pipeline.ParseTone(tone)
	if err != nil {
		return pipeline.Request{}, err
	}
	f, err := pipeline.ParseFormat(format)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{InputText: text, Tone: t, Format: f}, nil
}

// run executes the pipeline under the generation timeout. A panic is
// reported as an ordinary failure so the caller refunds.
func (s *Service) run(ctx context.Context, req pipeline.Request) (res pipeline.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			res.Stage = pipeline.StageFailed
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return s.pipeline.Run(ctx, req)
}

func (s *Service) persist(ctx context.Context, record *models.GenerationRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("persist panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("persist panic: %v", r)
		}
	}()
	return s.records.CreateRecord(ctx, record)
}

// refund credits back usageTx. It runs detached from the request context so
// a disconnected client cannot skip it; if it still fails the refund is
// handed to the scheduler.
func (s *Service) refund(ctx context.Context, principalID, usageTx uuid.UUID) {
	detached := context.WithoutCancel(ctx)
	refundCtx, cancel := context.WithTimeout(detached, s.cfg.RefundTimeout)
	defer cancel()

	_, err := s.ledger.Refund(refundCtx, principalID, usageTx)
	if err == nil {
		return
	}
	s.log.Error("refund failed", "principal_id", principalID, "usage_tx_id", usageTx, "error", err)
	if s.refunds == nil {
		return
	}
	// The inline attempt may have used up its deadline; scheduling gets its own.
	scheduleCtx, cancelSchedule := context.WithTimeout(detached, s.cfg.RefundTimeout)
	defer cancelSchedule()
	if err := s.refunds.ScheduleRefund(scheduleCtx, principalID, usageTx); err != nil {
		s.log.Error("schedule refund retry failed", "principal_id", principalID, "usage_tx_id", usageTx, "error", err)
	}
}
