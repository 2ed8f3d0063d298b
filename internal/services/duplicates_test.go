package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

func lineIDs(lines []models.SettlementLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ID)
	}
	return out
}

func TestDuplicateDetector_Partition(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.AppendCreditRecord(ctx, &models.CreditApplicationRecord{
		ID: "r-1", LineID: "old-1", FileID: "f-0", Identity: "111111", Reference: "REF-1",
		Amount: 100, AppliedAt: time.Now(), Outcome: models.CreditApplied,
	}))
	require.NoError(t, mem.AppendCreditRecord(ctx, &models.CreditApplicationRecord{
		ID: "r-2", LineID: "old-2", FileID: "f-0", Identity: "222222", Reference: "REF-2",
		Amount: 100, AppliedAt: time.Now(), Outcome: models.CreditRejected,
	}))
	d := NewDuplicateDetector(mem)

	t.Run("key applied on another line is excluded", func(t *testing.T) {
		lines := []models.SettlementLine{
			{ID: "a", FileID: "f-1", LineNumber: 2, RawIdentity: "111111", Reference: "REF-1", Matched: true},
			{ID: "b", FileID: "f-1", LineNumber: 3, RawIdentity: "333333", Reference: "REF-3", Matched: true},
		}

		p, err := d.Partition(ctx, lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, lineIDs(p.Creditable))
		require.Len(t, p.AlreadyCredited, 1)
		assert.Equal(t, "a", p.AlreadyCredited[0].Line.ID)
		assert.Equal(t, "old-1", p.AlreadyCredited[0].HeldBy)
	})

	t.Run("same identity with another reference is creditable", func(t *testing.T) {
		lines := []models.SettlementLine{
			{ID: "a", FileID: "f-1", LineNumber: 2, RawIdentity: "111111", Reference: "REF-9", Matched: true},
		}

		p, err := d.Partition(ctx, lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, lineIDs(p.Creditable))
	})

	t.Run("rejected history does not block", func(t *testing.T) {
		lines := []models.SettlementLine{
			{ID: "old-2", FileID: "f-0", LineNumber: 2, RawIdentity: "222222", Reference: "REF-2", Matched: true},
		}

		p, err := d.Partition(ctx, lines)
		require.NoError(t, err)
		assert.Len(t, p.Creditable, 1)
		assert.Empty(t, p.AlreadyCredited)
	})

	t.Run("holder of the key stays creditable", func(t *testing.T) {
		lines := []models.SettlementLine{
			{ID: "old-1", FileID: "f-0", LineNumber: 2, RawIdentity: "111111", Reference: "REF-1", Matched: true, CreditState: models.CreditStateCredited},
		}

		p, err := d.Partition(ctx, lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"old-1"}, lineIDs(p.Creditable))
	})

	t.Run("repeat inside the batch keeps the first by file and line", func(t *testing.T) {
		lines := []models.SettlementLine{
			{ID: "late", FileID: "f-2", LineNumber: 2, RawIdentity: "444444", Reference: "REF-4", Matched: true},
			{ID: "second", FileID: "f-1", LineNumber: 9, RawIdentity: "444444", Reference: "REF-4", Matched: true},
			{ID: "first", FileID: "f-1", LineNumber: 3, RawIdentity: "444444", Reference: "REF-4", Matched: true},
		}

		p, err := d.Partition(ctx, lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"first"}, lineIDs(p.Creditable))
		require.Len(t, p.AlreadyCredited, 2)
		for _, dup := range p.AlreadyCredited {
			assert.Equal(t, "first", dup.HeldBy)
		}
	})

	t.Run("read only", func(t *testing.T) {
		before, err := mem.ListCreditRecords(ctx, "f-0", "")
		require.NoError(t, err)

		_, err = d.Partition(ctx, []models.SettlementLine{{ID: "a", RawIdentity: "111111", Reference: "REF-1"}})
		require.NoError(t, err)

		after, err := mem.ListCreditRecords(ctx, "f-0", "")
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("store down is systemic", func(t *testing.T) {
		down := store.NewMemory()
		down.Unavailable = true

		_, err := NewDuplicateDetector(down).Partition(ctx, []models.SettlementLine{{ID: "a"}})
		assert.ErrorIs(t, err, ErrSystemic)
	})
}
