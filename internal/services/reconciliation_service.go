package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/config"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/metrics"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
	"golang.org/x/sync/errgroup"
)

const idempotencyKeyPrefix = "recon:idempotency:"

// MatchReport is returned by MatchAll.
type MatchReport struct {
	File    models.SettlementFile   `json:"file"`
	Matched int                     `json:"matched"`
	Lines   []models.SettlementLine `json:"lines"`
}

// ReconciliationService is the entry point for every operator action on
// settlement files. Each mutating call recomputes the affected files.
type ReconciliationService struct {
	store     store.Store
	redis     *redis.Client
	cfg       *config.ReconciliationConfig
	audit     *audit.Logger
	validator *ValidationHelper

	ingestor *SettlementIngestor
	matcher  *RecordMatcher
	resolver *ManualReconciliationResolver
	detector *DuplicateDetector
	ledger   *CreditLedger

	now func() time.Time
}

func NewReconciliationService(st store.Store, directory PassengerDirectory, redisClient *redis.Client, cfg *config.ReconciliationConfig, auditLogger *audit.Logger) *ReconciliationService {
	vh := NewValidationHelperWithIdentity(cfg.IdentityMinDigits, cfg.IdentityMaxDigits)
	return &ReconciliationService{
		store:     st,
		redis:     redisClient,
		cfg:       cfg,
		audit:     auditLogger,
		validator: vh,
		ingestor:  NewSettlementIngestor(),
		matcher:   NewRecordMatcher(directory, st),
		resolver:  NewManualReconciliationResolver(st, directory, NewProposalStore(redisClient), vh, auditLogger, cfg.ProposalTTL),
		detector:  NewDuplicateDetector(st),
		ledger:    NewCreditLedger(st, st, auditLogger),
		now:       time.Now,
	}
}

// Validator exposes the helper configured with the identity bounds.
func (s *ReconciliationService) Validator() *ValidationHelper {
	return s.validator
}

// IngestFile parses and persists a settlement file. Lines start unmatched.
func (s *ReconciliationService) IngestFile(ctx context.Context, fileName, uploadedBy string, r io.Reader) (*IngestResult, error) {
	log := logger.FromContext(ctx)

	result, err := s.ingestor.Parse(fileName, uploadedBy, r)
	if err != nil {
		metrics.ObserveIngest(metrics.ResultError, 0)
		return nil, err
	}
	result.File = RecomputeFile(result.File, result.Lines, nil, s.now())

	if err := s.store.CreateFile(ctx, &result.File, result.Lines); err != nil {
		metrics.ObserveIngest(metrics.ResultError, 0)
		return nil, systemic("create file", err)
	}

	metrics.ObserveIngest(metrics.ResultSuccess, len(result.ParseErrors))
	if s.audit != nil {
		s.audit.LogOperation(result.File.ID, uploadedBy, "INGEST",
			fmt.Sprintf("%s: %d lines, %d parse errors", fileName, len(result.Lines), len(result.ParseErrors)))
	}
	log.Info().Str("file_id", result.File.ID).Int("lines", len(result.Lines)).
		Int("parse_errors", len(result.ParseErrors)).Msg("[INGEST] Settlement file stored")
	return result, nil
}

// MatchAll runs the matcher over every unmatched line of the file.
func (s *ReconciliationService) MatchAll(ctx context.Context, fileID string) (*MatchReport, error) {
	log := logger.FromContext(ctx)

	lines, err := s.store.ListLines(ctx, fileID)
	if err != nil {
		return nil, storeErr("list lines", err, ErrFileNotFound)
	}

	matched := make([]bool, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CreditWorkers)
	for i := range lines {
		if lines[i].Matched {
			continue
		}
		g.Go(func() error {
			res, err := s.matcher.Match(gctx, &lines[i])
			if err != nil {
				return err
			}
			matched[i] = res.Matched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// lines matched before the failure are durable
		if _, rerr := s.recompute(ctx, fileID); rerr != nil {
			log.Error().Err(rerr).Str("file_id", fileID).Msg("[RECON] Recompute after failed match")
		}
		return nil, err
	}

	count := 0
	for _, m := range matched {
		if m {
			count++
		}
	}

	file, err := s.recompute(ctx, fileID)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.ListLines(ctx, fileID)
	if err != nil {
		return nil, storeErr("list lines", err, ErrFileNotFound)
	}

	log.Info().Str("file_id", fileID).Int("newly_matched", count).Int("matched", file.MatchedLines).
		Int("total", file.TotalLines).Msg("[RECON] Automatic matching finished")
	return &MatchReport{File: *file, Matched: count, Lines: updated}, nil
}

// ProposeResolution validates and looks up a corrected identity.
func (s *ReconciliationService) ProposeResolution(ctx context.Context, lineID, identity, operator string) (*ResolutionProposal, error) {
	return s.resolver.Propose(ctx, lineID, identity, operator)
}

// ConfirmResolution executes a proposal and recomputes the file.
func (s *ReconciliationService) ConfirmResolution(ctx context.Context, token, operator string) (*ResolvedPassenger, error) {
	resolved, err := s.resolver.Confirm(ctx, token, operator)
	if err != nil {
		return nil, err
	}
	if _, err := s.recompute(ctx, resolved.Line.FileID); err != nil {
		return nil, err
	}
	return resolved, nil
}

// ApplyCredits credits the given lines. Per-line failures are reported in the
// summary; only a systemic failure is returned as an error, together with the
// partial summary of what was decided before it.
func (s *ReconciliationService) ApplyCredits(ctx context.Context, lineIDs []string, operator, idempotencyKey string) (*models.BatchSummary, error) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]any{
		"operator":        operator,
		"idempotency_key": idempotencyKey,
	})
	start := s.now()

	ids := uniqueIDs(lineIDs)
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "lineIds", Tag: "required", Reason: "at least one line is required"}
	}
	if s.cfg.MaxBatchLines > 0 && len(ids) > s.cfg.MaxBatchLines {
		return nil, &ValidationError{Field: "lineIds", Tag: "max",
			Reason: fmt.Sprintf("at most %d lines per batch", s.cfg.MaxBatchLines)}
	}

	if replay := s.loadReplay(ctx, operator, idempotencyKey); replay != nil {
		log.Info().Str("batch_id", replay.BatchID).Msg("[RECON] Replaying stored batch summary")
		return replay, nil
	}

	lines, err := s.store.GetLines(ctx, ids)
	if err != nil {
		return nil, systemic("load lines", err)
	}

	results := make(map[string]models.LineResult, len(ids))
	byID := make(map[string]models.SettlementLine, len(lines))
	var candidates []models.SettlementLine
	for _, l := range lines {
		byID[l.ID] = l
		if !l.Matched {
			results[l.ID] = lineResult(&l, models.LineSkipped, "line is not matched")
			continue
		}
		candidates = append(candidates, l)
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			results[id] = models.LineResult{LineID: id, Outcome: models.LineSkipped, Reason: "line not found"}
		}
	}

	partition, err := s.detector.Partition(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for _, dup := range partition.AlreadyCredited {
		line := dup.Line
		results[line.ID] = lineResult(&line, models.LineDuplicated, "already credited by line "+dup.HeldBy)
		s.ledger.RecordDuplicate(ctx, &line, operator, dup.HeldBy)
	}

	mu := &lineResults{results: results}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CreditWorkers)
	for i := range partition.Creditable {
		line := partition.Creditable[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				mu.set(line.ID, lineResult(&line, models.LineSkipped, "batch aborted"))
				return systemic("apply credits", err)
			}
			res, err := s.applyOne(gctx, &line, operator)
			mu.set(line.ID, res)
			return err
		})
	}
	runErr := g.Wait()

	batchID := uuid.NewString()
	ordered := make([]models.LineResult, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, results[id])
	}
	summary := Summarize(batchID, ordered)
	for _, r := range summary.Lines {
		metrics.ObserveCreditLine(string(r.Outcome), r.Amount)
	}

	fileIDs := touchedFiles(lines)
	s.persistBatch(ctx, &summary, fileIDs, operator)

	result := metrics.ResultSuccess
	if runErr != nil {
		result = metrics.ResultError
	}
	metrics.ObserveBatch(result, s.now().Sub(start))

	if runErr != nil {
		log.Error().Err(runErr).Str("batch_id", batchID).Int("applied", summary.Applied).
			Msg("[RECON] Credit batch aborted")
		return &summary, runErr
	}

	s.storeReplay(ctx, operator, idempotencyKey, &summary)
	log.Info().Str("batch_id", batchID).Int("applied", summary.Applied).Int("already_applied", summary.AlreadyApplied).
		Int("duplicated", summary.Duplicated).Int("errored", summary.Errored).
		Int64("amount_applied", summary.TotalAmountApplied).Msg("[RECON] Credit batch finished")
	return &summary, nil
}

func (s *ReconciliationService) applyOne(ctx context.Context, line *models.SettlementLine, operator string) (models.LineResult, error) {
	outcome, err := s.ledger.Apply(ctx, line, operator)
	switch {
	case err == nil && outcome == models.CreditApplied:
		return lineResult(line, models.LineApplied, ""), nil
	case err == nil:
		return lineResult(line, models.LineAlreadyApplied, reasonAlreadyCredited), nil
	case errors.Is(err, ErrDuplicateCredit):
		s.ledger.RecordDuplicate(ctx, line, operator, "")
		return lineResult(line, models.LineDuplicated, "credit key taken by a concurrent batch"), nil
	case errors.Is(err, ErrLedgerApply):
		return lineResult(line, models.LineRejected, err.Error()), nil
	case errors.Is(err, ErrLineNotEligible), errors.Is(err, ErrLineNotFound):
		return lineResult(line, models.LineSkipped, err.Error()), nil
	default:
		return lineResult(line, models.LineSkipped, "aborted: backend unavailable"), err
	}
}

// persistBatch stores the summary against the touched files and recomputes
// them. Failures are logged; the credits themselves are already durable.
func (s *ReconciliationService) persistBatch(ctx context.Context, summary *models.BatchSummary, fileIDs []string, operator string) {
	log := logger.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	if len(fileIDs) > 0 {
		batch := &models.CreditBatch{
			ID:          summary.BatchID,
			FileIDs:     fileIDs,
			RequestedBy: operator,
			CreatedAt:   s.now(),
			Summary:     *summary,
		}
		if err := s.store.SaveBatch(ctx, batch); err != nil {
			log.Error().Err(err).Str("batch_id", summary.BatchID).Msg("[RECON] Failed to save batch summary")
		}
	}
	for _, fileID := range fileIDs {
		if _, err := s.recompute(ctx, fileID); err != nil {
			log.Error().Err(err).Str("file_id", fileID).Msg("[RECON] Failed to recompute file")
		}
		if s.audit != nil {
			s.audit.LogOperation(fileID, operator, "CREDIT_BATCH", summary.BatchID)
		}
	}
}

func (s *ReconciliationService) idempotencyKey(operator, key string) string {
	return fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, operator, key)
}

func (s *ReconciliationService) loadReplay(ctx context.Context, operator, key string) *models.BatchSummary {
	if key == "" || s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, s.idempotencyKey(operator, key)).Result()
	if err != nil {
		if err != redis.Nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("[RECON] Idempotency lookup failed, processing batch")
		}
		return nil
	}
	var summary models.BatchSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil
	}
	summary.Replayed = true
	return &summary
}

func (s *ReconciliationService) storeReplay(ctx context.Context, operator, key string, summary *models.BatchSummary) {
	if key == "" || s.redis == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.redis.Set(context.WithoutCancel(ctx), s.idempotencyKey(operator, key), data, s.cfg.IdempotencyTTL).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("[RECON] Failed to store idempotency key")
	}
}

func (s *ReconciliationService) recompute(ctx context.Context, fileID string) (*models.SettlementFile, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, storeErr("load file", err, ErrFileNotFound)
	}
	lines, err := s.store.ListLines(ctx, fileID)
	if err != nil {
		return nil, storeErr("list lines", err, ErrFileNotFound)
	}
	latest, err := s.store.LatestOutcomes(ctx, fileID)
	if err != nil {
		return nil, systemic("latest outcomes", err)
	}
	updated := RecomputeFile(*file, lines, latest, s.now())
	if err := s.store.UpdateFileSummary(ctx, &updated); err != nil {
		return nil, storeErr("update file", err, ErrFileNotFound)
	}
	return &updated, nil
}

// GetHistory lists settlement files, newest first.
func (s *ReconciliationService) GetHistory(ctx context.Context, filter models.FileFilter) ([]models.SettlementFile, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.HistoryDefaultSize
	}
	files, err := s.store.ListFiles(ctx, filter)
	if err != nil {
		return nil, systemic("list files", err)
	}
	return files, nil
}

func (s *ReconciliationService) GetFile(ctx context.Context, fileID string) (*models.SettlementFile, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, storeErr("load file", err, ErrFileNotFound)
	}
	return file, nil
}

func (s *ReconciliationService) GetLines(ctx context.Context, fileID string) ([]models.SettlementLine, error) {
	lines, err := s.store.ListLines(ctx, fileID)
	if err != nil {
		return nil, storeErr("list lines", err, ErrFileNotFound)
	}
	return lines, nil
}

func (s *ReconciliationService) GetBatches(ctx context.Context, fileID string) ([]models.CreditBatch, error) {
	if _, err := s.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	batches, err := s.store.ListBatches(ctx, fileID)
	if err != nil {
		return nil, systemic("list batches", err)
	}
	return batches, nil
}

// DuplicateAuditList returns the lines of the file that were excluded as
// duplicates, once per line and oldest first.
func (s *ReconciliationService) DuplicateAuditList(ctx context.Context, fileID string) ([]models.CreditApplicationRecord, error) {
	if _, err := s.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	records, err := s.store.ListCreditRecords(ctx, fileID, models.CreditAlreadyApplied)
	if err != nil {
		return nil, systemic("list credit records", err)
	}
	out := make([]models.CreditApplicationRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if !strings.HasPrefix(r.Reason, reasonDuplicate) {
			continue
		}
		// re-submitting an excluded line records it again; list it once
		if _, ok := seen[r.LineID]; ok {
			continue
		}
		seen[r.LineID] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

type lineResults struct {
	mu      sync.Mutex
	results map[string]models.LineResult
}

func (r *lineResults) set(id string, res models.LineResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = res
}

func lineResult(line *models.SettlementLine, outcome models.LineOutcome, reason string) models.LineResult {
	return models.LineResult{
		LineID:    line.ID,
		FileID:    line.FileID,
		Identity:  line.RawIdentity,
		Reference: line.Reference,
		Amount:    line.Amount,
		Outcome:   outcome,
		Reason:    reason,
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func touchedFiles(lines []models.SettlementLine) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lines {
		if _, ok := seen[l.FileID]; ok {
			continue
		}
		seen[l.FileID] = struct{}{}
		out = append(out, l.FileID)
	}
	sort.Strings(out)
	return out
}
