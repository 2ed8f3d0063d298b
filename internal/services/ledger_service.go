package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

const (
	reasonAlreadyCredited = "line already credited"
	reasonDuplicate       = "duplicate"
)

// CreditLedger is the only writer of passenger balances and line credit state.
type CreditLedger struct {
	lines   store.SettlementStore
	credits store.CreditStore
	audit   *audit.Logger
	now     func() time.Time
}

func NewCreditLedger(lines store.SettlementStore, credits store.CreditStore, auditLogger *audit.Logger) *CreditLedger {
	return &CreditLedger{
		lines:   lines,
		credits: credits,
		audit:   auditLogger,
		now:     time.Now,
	}
}

// Apply credits one line at most once.
//
// The returned error is nil for APPLIED and ALREADY_APPLIED. REJECTED comes
// with an ErrLedgerApply error and leaves the line uncredited. ErrDuplicateCredit
// means another line took the key first; ErrSystemic means the store could not
// be reached and the caller should stop the batch.
func (l *CreditLedger) Apply(ctx context.Context, line *models.SettlementLine, operator string) (models.CreditOutcome, error) {
	log := logger.FromContext(ctx)

	current, err := l.lines.GetLine(ctx, line.ID)
	if err != nil {
		return "", storeErr("read line", err, ErrLineNotFound)
	}
	if current.Credited() {
		l.recordOutcome(ctx, current, operator, models.CreditAlreadyApplied, reasonAlreadyCredited)
		return models.CreditAlreadyApplied, nil
	}
	if !current.Matched {
		return "", fmt.Errorf("line %s is not matched: %w", line.ID, ErrLineNotEligible)
	}

	// Once the unit of work starts it runs to commit or rollback.
	uow := context.WithoutCancel(ctx)
	tx, err := l.credits.BeginCredit(uow)
	if err != nil {
		return "", systemic("begin credit", err)
	}
	defer tx.Rollback()

	at := l.now()
	ok, err := tx.MarkCredited(uow, current.ID, at)
	if err != nil {
		return "", storeErr("mark credited", err, ErrLineNotFound)
	}
	if !ok {
		tx.Rollback()
		l.recordOutcome(ctx, current, operator, models.CreditAlreadyApplied, reasonAlreadyCredited)
		return models.CreditAlreadyApplied, nil
	}

	rec := l.record(current, operator, models.CreditApplied, "")
	rec.AppliedAt = at
	if err := tx.AppendCreditRecord(uow, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("line %s: %w", current.ID, ErrDuplicateCredit)
		}
		return "", systemic("append credit record", err)
	}

	balance, err := tx.AddToBalance(uow, current.PassengerID, current.Amount)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, store.ErrUnavailable) {
			return "", systemic("update balance", err)
		}
		log.Warn().Err(err).Str("line_id", current.ID).Str("passenger_id", current.PassengerID).
			Msg("[LEDGER] Balance update failed, credit rolled back")
		l.recordOutcome(ctx, current, operator, models.CreditRejected, err.Error())
		if l.audit != nil {
			l.audit.LogError(current.ID, operator, err)
		}
		return models.CreditRejected, fmt.Errorf("line %s: %w: %v", current.ID, ErrLedgerApply, err)
	}

	if err := tx.Commit(); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return "", fmt.Errorf("line %s: %w", current.ID, ErrDuplicateCredit)
		case errors.Is(err, store.ErrUnavailable):
			return "", systemic("commit credit", err)
		}
		l.recordOutcome(ctx, current, operator, models.CreditRejected, err.Error())
		return models.CreditRejected, fmt.Errorf("line %s: %w: %v", current.ID, ErrLedgerApply, err)
	}

	line.CreditState = models.CreditStateCredited
	line.CreditedAt = &at
	if l.audit != nil {
		l.audit.LogCredit(current.ID, current.FileID, current.PassengerID, operator, current.Amount, string(models.CreditApplied))
	}
	log.Info().Str("line_id", current.ID).Str("passenger_id", current.PassengerID).
		Int64("amount", current.Amount).Int64("balance", balance).Msg("[LEDGER] Credit applied")
	return models.CreditApplied, nil
}

// RecordDuplicate appends the audit entry for a line excluded as a duplicate.
func (l *CreditLedger) RecordDuplicate(ctx context.Context, line *models.SettlementLine, operator, heldBy string) {
	reason := reasonDuplicate
	if heldBy != "" {
		reason = fmt.Sprintf("%s of line %s", reasonDuplicate, heldBy)
	}
	l.recordOutcome(ctx, line, operator, models.CreditAlreadyApplied, reason)
}

func (l *CreditLedger) record(line *models.SettlementLine, operator string, outcome models.CreditOutcome, reason string) *models.CreditApplicationRecord {
	return &models.CreditApplicationRecord{
		ID:          uuid.NewString(),
		LineID:      line.ID,
		FileID:      line.FileID,
		PassengerID: line.PassengerID,
		Identity:    line.RawIdentity,
		Reference:   line.Reference,
		Amount:      line.Amount,
		AppliedAt:   l.now(),
		AppliedBy:   operator,
		Outcome:     outcome,
		Reason:      reason,
	}
}

// recordOutcome appends a non-APPLIED record outside any unit of work. The log
// write is best effort: the outcome has already been decided.
func (l *CreditLedger) recordOutcome(ctx context.Context, line *models.SettlementLine, operator string, outcome models.CreditOutcome, reason string) {
	rec := l.record(line, operator, outcome, reason)
	if err := l.credits.AppendCreditRecord(context.WithoutCancel(ctx), rec); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("line_id", line.ID).Str("outcome", string(outcome)).
			Msg("[LEDGER] Failed to append credit record")
	}
}
