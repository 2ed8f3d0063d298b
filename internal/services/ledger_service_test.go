package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

func newLedgerFixture(t *testing.T) (*CreditLedger, *store.Memory, *bytes.Buffer) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddPassenger(models.Passenger{ID: "p-1", Identity: "111111"}, 1000)
	mem.AddPassenger(models.Passenger{ID: "p-2", Identity: "222222"}, 0)
	lines := []models.SettlementLine{
		{ID: "l-1", FileID: "f-1", LineNumber: 2, RawIdentity: "111111", Reference: "R1", Amount: 500, Matched: true, PassengerID: "p-1", CreditState: models.CreditStateNone},
		{ID: "l-2", FileID: "f-1", LineNumber: 3, RawIdentity: "222222", Reference: "R2", Amount: 700, Matched: true, PassengerID: "p-2", CreditState: models.CreditStateNone},
		{ID: "l-3", FileID: "f-1", LineNumber: 4, RawIdentity: "333333", Reference: "R3", Amount: 900, CreditState: models.CreditStateNone},
	}
	require.NoError(t, mem.CreateFile(context.Background(), &models.SettlementFile{ID: "f-1"}, lines))

	buf := &bytes.Buffer{}
	return NewCreditLedger(mem, mem, audit.NewLoggerWithOutput(logger.NewWithWriter(buf))), mem, buf
}

func balanceOf(t *testing.T, mem *store.Memory, passengerID string) int64 {
	t.Helper()
	acc, ok := mem.Account(passengerID)
	require.True(t, ok)
	return acc.Balance
}

func TestCreditLedger_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("applies once", func(t *testing.T) {
		ledger, mem, buf := newLedgerFixture(t)
		line, _ := mem.GetLine(ctx, "l-1")

		outcome, err := ledger.Apply(ctx, line, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditApplied, outcome)
		assert.True(t, line.Credited())
		assert.Equal(t, int64(1500), balanceOf(t, mem, "p-1"))
		assert.Contains(t, buf.String(), "CREDIT")

		stored, _ := mem.GetLine(ctx, "l-1")
		assert.Equal(t, models.CreditStateCredited, stored.CreditState)
		assert.True(t, stored.Matched)

		applied, _ := mem.ListCreditRecords(ctx, "f-1", models.CreditApplied)
		require.Len(t, applied, 1)
		assert.Equal(t, "op-1", applied[0].AppliedBy)
		assert.Equal(t, int64(500), applied[0].Amount)

		outcome, err = ledger.Apply(ctx, line, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditAlreadyApplied, outcome)
		assert.Equal(t, int64(1500), balanceOf(t, mem, "p-1"))
	})

	t.Run("stale caller copy still hits the optimistic check", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)
		stale, _ := mem.GetLine(ctx, "l-1")
		fresh, _ := mem.GetLine(ctx, "l-1")

		_, err := ledger.Apply(ctx, fresh, "op-1")
		require.NoError(t, err)

		outcome, err := ledger.Apply(ctx, stale, "op-2")
		require.NoError(t, err)
		assert.Equal(t, models.CreditAlreadyApplied, outcome)
		assert.Equal(t, int64(1500), balanceOf(t, mem, "p-1"))
	})

	t.Run("unmatched line is never credited", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)
		line, _ := mem.GetLine(ctx, "l-3")

		_, err := ledger.Apply(ctx, line, "op-1")
		assert.ErrorIs(t, err, ErrLineNotEligible)

		stored, _ := mem.GetLine(ctx, "l-3")
		assert.Equal(t, models.CreditStateNone, stored.CreditState)
	})

	t.Run("balance failure rolls the line back", func(t *testing.T) {
		ledger, mem, buf := newLedgerFixture(t)
		mem.BalanceFault = func(passengerID string) error {
			return errors.New("account store timeout")
		}
		line, _ := mem.GetLine(ctx, "l-2")

		outcome, err := ledger.Apply(ctx, line, "op-1")
		assert.Equal(t, models.CreditRejected, outcome)
		assert.ErrorIs(t, err, ErrLedgerApply)
		assert.False(t, line.Credited())
		assert.Contains(t, buf.String(), "FAILED")

		stored, _ := mem.GetLine(ctx, "l-2")
		assert.Equal(t, models.CreditStateNone, stored.CreditState)
		assert.Equal(t, int64(0), balanceOf(t, mem, "p-2"))

		latest, _ := mem.LatestOutcomes(ctx, "f-1")
		assert.Equal(t, models.CreditRejected, latest["l-2"])
		applied, _ := mem.AppliedCreditLines(ctx, []models.CreditKey{stored.Key()})
		assert.Empty(t, applied)

		// the line stays eligible
		mem.BalanceFault = nil
		outcome, err = ledger.Apply(ctx, stored, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditApplied, outcome)
		assert.Equal(t, int64(700), balanceOf(t, mem, "p-2"))
	})

	t.Run("unreachable balance store is systemic", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)
		mem.BalanceFault = func(string) error { return store.ErrUnavailable }
		line, _ := mem.GetLine(ctx, "l-1")

		_, err := ledger.Apply(ctx, line, "op-1")
		assert.ErrorIs(t, err, ErrSystemic)

		stored, _ := mem.GetLine(ctx, "l-1")
		assert.Equal(t, models.CreditStateNone, stored.CreditState)
	})

	t.Run("key taken by another line", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)
		require.NoError(t, mem.AppendCreditRecord(ctx, &models.CreditApplicationRecord{
			ID: "r-x", LineID: "other", FileID: "f-0", Identity: "111111", Reference: "R1", Outcome: models.CreditApplied,
		}))
		line, _ := mem.GetLine(ctx, "l-1")

		_, err := ledger.Apply(ctx, line, "op-1")
		assert.ErrorIs(t, err, ErrDuplicateCredit)

		stored, _ := mem.GetLine(ctx, "l-1")
		assert.Equal(t, models.CreditStateNone, stored.CreditState)
		assert.Equal(t, int64(1000), balanceOf(t, mem, "p-1"))
	})

	t.Run("cancelled caller does not interrupt", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)
		line, _ := mem.GetLine(ctx, "l-1")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		outcome, err := ledger.Apply(cctx, line, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditApplied, outcome)
	})

	t.Run("concurrent applies credit once", func(t *testing.T) {
		ledger, mem, _ := newLedgerFixture(t)

		var wg sync.WaitGroup
		outcomes := make(chan models.CreditOutcome, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				line, err := mem.GetLine(ctx, "l-1")
				if err != nil {
					return
				}
				outcome, err := ledger.Apply(ctx, line, "op-1")
				if err == nil {
					outcomes <- outcome
				}
			}()
		}
		wg.Wait()
		close(outcomes)

		applied := 0
		for o := range outcomes {
			if o == models.CreditApplied {
				applied++
			}
		}
		assert.Equal(t, 1, applied)
		assert.Equal(t, int64(1500), balanceOf(t, mem, "p-1"))
	})
}

func TestCreditLedger_ApplyPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pg := store.NewPostgres(db)
	ledger := NewCreditLedger(pg, pg, nil)
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	lineCols := []string{"id", "file_id", "line_number", "raw_identity", "payer_name", "amount", "movement_date",
		"reference", "matched", "passenger_id", "credit_state", "credited_at", "corrected_by", "corrected_at"}
	lineRow := func(state string) *sqlmock.Rows {
		return sqlmock.NewRows(lineCols).AddRow("l-1", "f-1", 2, "111111", "Laura", 500, fixed,
			"R1", true, "p-1", state, nil, nil, nil)
	}
	line := &models.SettlementLine{ID: "l-1"}

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM settlement_lines WHERE id = \\$1").
			WithArgs("l-1").WillReturnRows(lineRow("NONE"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE settlement_lines\\s+SET credit_state = 'CREDITED', credited_at = \\$2\\s+WHERE id = \\$1 AND credit_state = 'NONE' AND matched = TRUE").
			WithArgs("l-1", fixed).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_applications").
			WithArgs(sqlmock.AnyArg(), "l-1", "f-1", "p-1", "111111", "R1", int64(500), fixed, "op-1", "APPLIED", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT passenger_id, balance, version, updated_at\\s+FROM passenger_accounts\\s+WHERE passenger_id = \\$1\\s+FOR UPDATE").
			WithArgs("p-1").
			WillReturnRows(sqlmock.NewRows([]string{"passenger_id", "balance", "version", "updated_at"}).AddRow("p-1", 1000, 3, fixed))
		mock.ExpectExec("UPDATE passenger_accounts\\s+SET balance = \\$1, version = version \\+ 1, updated_at = \\$2\\s+WHERE passenger_id = \\$3 AND version = \\$4").
			WithArgs(int64(1500), sqlmock.AnyArg(), "p-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := ledger.Apply(context.Background(), line, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditApplied, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("compare-and-set lost", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM settlement_lines WHERE id = \\$1").
			WithArgs("l-1").WillReturnRows(lineRow("NONE"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE settlement_lines").
			WithArgs("l-1", fixed).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		mock.ExpectExec("INSERT INTO credit_applications").
			WithArgs(sqlmock.AnyArg(), "l-1", "f-1", "p-1", "111111", "R1", int64(500), fixed, "op-1", "ALREADY_APPLIED", reasonAlreadyCredited).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := ledger.Apply(context.Background(), &models.SettlementLine{ID: "l-1"}, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.CreditAlreadyApplied, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a duplicate", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM settlement_lines WHERE id = \\$1").
			WithArgs("l-1").WillReturnRows(lineRow("NONE"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE settlement_lines").
			WithArgs("l-1", fixed).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_applications").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
		mock.ExpectRollback()

		_, err := ledger.Apply(context.Background(), &models.SettlementLine{ID: "l-1"}, "op-1")
		assert.ErrorIs(t, err, ErrDuplicateCredit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure is rejected and rolled back", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM settlement_lines WHERE id = \\$1").
			WithArgs("l-1").WillReturnRows(lineRow("NONE"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE settlement_lines").
			WithArgs("l-1", fixed).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_applications").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT passenger_id, balance, version, updated_at").
			WithArgs("p-1").
			WillReturnRows(sqlmock.NewRows([]string{"passenger_id", "balance", "version", "updated_at"}).AddRow("p-1", 1000, 3, fixed))
		mock.ExpectExec("UPDATE passenger_accounts").
			WithArgs(int64(1500), sqlmock.AnyArg(), "p-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		mock.ExpectExec("INSERT INTO credit_applications").
			WithArgs(sqlmock.AnyArg(), "l-1", "f-1", "p-1", "111111", "R1", int64(500), fixed, "op-1", "REJECTED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := ledger.Apply(context.Background(), &models.SettlementLine{ID: "l-1"}, "op-1")
		assert.Equal(t, models.CreditRejected, outcome)
		assert.ErrorIs(t, err, ErrLedgerApply)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is systemic", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM settlement_lines WHERE id = \\$1").
			WithArgs("l-1").WillReturnRows(lineRow("NONE"))
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

		_, err := ledger.Apply(context.Background(), &models.SettlementLine{ID: "l-1"}, "op-1")
		assert.ErrorIs(t, err, ErrSystemic)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
