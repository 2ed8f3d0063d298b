// Package store persists settlement files, their lines, passenger balances and the
// credit application log. Postgres backs production; Memory backs tests and demos.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/transitpay/backoffice/internal/models"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrConflict    = errors.New("store: conflict")
	ErrUnavailable = errors.New("store: unavailable")
)

// PassengerReader resolves passengers by national identity.
type PassengerReader interface {
	FindPassengerByIdentity(ctx context.Context, identity string) (*models.Passenger, error)
}

// SettlementStore owns files and lines. Credit state is never written here.
type SettlementStore interface {
	CreateFile(ctx context.Context, file *models.SettlementFile, lines []models.SettlementLine) error
	GetFile(ctx context.Context, id string) (*models.SettlementFile, error)
	ListFiles(ctx context.Context, filter models.FileFilter) ([]models.SettlementFile, error)
	UpdateFileSummary(ctx context.Context, file *models.SettlementFile) error

	GetLine(ctx context.Context, id string) (*models.SettlementLine, error)
	GetLines(ctx context.Context, ids []string) ([]models.SettlementLine, error)
	ListLines(ctx context.Context, fileID string) ([]models.SettlementLine, error)

	// MarkMatched binds a passenger to a line that is still uncredited.
	MarkMatched(ctx context.Context, lineID, passengerID string) error
	// CorrectLine applies a manual resolution; ErrConflict unless the line is
	// still unmatched and uncredited.
	CorrectLine(ctx context.Context, c models.LineCorrection) error
}

// CreditStore is the credit application log plus the credit unit of work.
type CreditStore interface {
	// AppliedCreditLines maps each key with an APPLIED record to the line that holds it.
	AppliedCreditLines(ctx context.Context, keys []models.CreditKey) (map[models.CreditKey]string, error)
	// LatestOutcomes returns the most recent outcome per line of a file.
	LatestOutcomes(ctx context.Context, fileID string) (map[string]models.CreditOutcome, error)
	AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error
	ListCreditRecords(ctx context.Context, fileID string, outcome models.CreditOutcome) ([]models.CreditApplicationRecord, error)

	BeginCredit(ctx context.Context) (CreditTx, error)

	SaveBatch(ctx context.Context, batch *models.CreditBatch) error
	ListBatches(ctx context.Context, fileID string) ([]models.CreditBatch, error)
}

// CreditTx is the per-line unit of work. Nothing is visible before Commit and
// Rollback discards every staged change.
type CreditTx interface {
	// MarkCredited is the compare-and-set NONE -> CREDITED on a matched line.
	MarkCredited(ctx context.Context, lineID string, at time.Time) (bool, error)
	// AppendCreditRecord returns ErrConflict when the key already holds an APPLIED record.
	AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error
	// AddToBalance adds amount under the account's optimistic version and returns the new balance.
	AddToBalance(ctx context.Context, passengerID string, amount int64) (int64, error)
	Commit() error
	Rollback() error
}

// Store is everything the reconciliation pipeline persists.
type Store interface {
	PassengerReader
	SettlementStore
	CreditStore
}
