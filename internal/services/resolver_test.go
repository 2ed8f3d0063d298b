package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

func newResolverFixture(t *testing.T, dir PassengerDirectory) (*ManualReconciliationResolver, *store.Memory, *bytes.Buffer) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddPassenger(models.Passenger{ID: "p-9", Identity: "118520147", Name: "Laura Gomez", ClientCompany: "Acme", ContractType: "PREPAID"}, 0)
	lines := []models.SettlementLine{
		{ID: "l-3", FileID: "f-1", LineNumber: 4, RawIdentity: "11852014", Amount: 5000, Reference: "R3", CreditState: models.CreditStateNone},
		{ID: "l-4", FileID: "f-1", LineNumber: 5, RawIdentity: "222222", Amount: 700, Reference: "R4", Matched: true, PassengerID: "p-2", CreditState: models.CreditStateNone},
	}
	require.NoError(t, mem.CreateFile(context.Background(), &models.SettlementFile{ID: "f-1"}, lines))
	if dir == nil {
		dir = NewReaderDirectory(mem, 0)
	}

	buf := &bytes.Buffer{}
	r := NewManualReconciliationResolver(mem, dir, NewMemoryProposalStore(), NewValidationHelper(),
		audit.NewLoggerWithOutput(logger.NewWithWriter(buf)), 10*time.Minute)
	return r, mem, buf
}

func TestResolver_Propose(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed identity never reaches the directory", func(t *testing.T) {
		dir := new(MockPassengerDirectory)
		r, mem, _ := newResolverFixture(t, dir)

		for _, identity := range []string{"", "   ", "abc123", "12-345-678", "123"} {
			_, err := r.Propose(ctx, "l-3", identity, "op-1")
			assert.ErrorIs(t, err, ErrValidation, identity)
		}
		dir.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)

		line, _ := mem.GetLine(ctx, "l-3")
		assert.False(t, line.Matched)
	})

	t.Run("hit returns candidate without mutating", func(t *testing.T) {
		r, mem, _ := newResolverFixture(t, nil)

		p, err := r.Propose(ctx, "l-3", " 118520147 ", "op-1")
		require.NoError(t, err)
		assert.NotEmpty(t, p.Token)
		assert.Equal(t, "118520147", p.Identity)
		assert.Equal(t, "Laura Gomez", p.Passenger.Name)
		assert.Equal(t, "Acme", p.Passenger.ClientCompany)
		assert.Equal(t, "PREPAID", p.Passenger.ContractType)

		line, _ := mem.GetLine(ctx, "l-3")
		assert.False(t, line.Matched)
		assert.Equal(t, "11852014", line.RawIdentity)
	})

	t.Run("miss reports not found", func(t *testing.T) {
		r, mem, _ := newResolverFixture(t, nil)

		_, err := r.Propose(ctx, "l-3", "99999999", "op-1")
		assert.ErrorIs(t, err, ErrMatchNotFound)

		line, _ := mem.GetLine(ctx, "l-3")
		assert.False(t, line.Matched)
	})

	t.Run("matched line is not eligible", func(t *testing.T) {
		r, _, _ := newResolverFixture(t, nil)

		_, err := r.Propose(ctx, "l-4", "118520147", "op-1")
		assert.ErrorIs(t, err, ErrLineNotEligible)
	})

	t.Run("unknown line", func(t *testing.T) {
		r, _, _ := newResolverFixture(t, nil)

		_, err := r.Propose(ctx, "missing", "118520147", "op-1")
		assert.ErrorIs(t, err, ErrLineNotFound)
	})
}

func TestResolver_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("confirm corrects the line once", func(t *testing.T) {
		r, mem, buf := newResolverFixture(t, nil)
		p, err := r.Propose(ctx, "l-3", "118520147", "op-1")
		require.NoError(t, err)

		resolved, err := r.Confirm(ctx, p.Token, "op-2")
		require.NoError(t, err)
		assert.Equal(t, "p-9", resolved.Passenger.ID)
		assert.True(t, resolved.Line.Matched)
		assert.Equal(t, "118520147", resolved.Line.RawIdentity)
		assert.Equal(t, "p-9", resolved.Line.PassengerID)
		assert.Equal(t, "op-2", resolved.Line.CorrectedBy)
		assert.NotNil(t, resolved.Line.CorrectedAt)
		assert.Equal(t, models.CreditStateNone, resolved.Line.CreditState)
		assert.Contains(t, buf.String(), "CORRECTION")

		_, err = r.Confirm(ctx, p.Token, "op-2")
		assert.ErrorIs(t, err, ErrProposalNotFound)

		line, _ := mem.GetLine(ctx, "l-3")
		assert.True(t, line.Matched)
	})

	t.Run("line matched after proposal", func(t *testing.T) {
		r, mem, _ := newResolverFixture(t, nil)
		p, err := r.Propose(ctx, "l-3", "118520147", "op-1")
		require.NoError(t, err)

		require.NoError(t, mem.MarkMatched(ctx, "l-3", "p-1"))

		_, err = r.Confirm(ctx, p.Token, "op-1")
		assert.ErrorIs(t, err, ErrLineNotEligible)

		line, _ := mem.GetLine(ctx, "l-3")
		assert.Equal(t, "p-1", line.PassengerID)
	})

	t.Run("store outage keeps the proposal", func(t *testing.T) {
		r, mem, _ := newResolverFixture(t, nil)
		p, err := r.Propose(ctx, "l-3", "118520147", "op-1")
		require.NoError(t, err)

		mem.Unavailable = true
		_, err = r.Confirm(ctx, p.Token, "op-1")
		assert.ErrorIs(t, err, ErrSystemic)

		mem.Unavailable = false
		resolved, err := r.Confirm(ctx, p.Token, "op-1")
		require.NoError(t, err)
		assert.True(t, resolved.Line.Matched)
		assert.Equal(t, "p-9", resolved.Line.PassengerID)
	})

	t.Run("expired proposal", func(t *testing.T) {
		r, _, _ := newResolverFixture(t, nil)
		r.ttl = time.Millisecond
		p, err := r.Propose(ctx, "l-3", "118520147", "op-1")
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		_, err = r.Confirm(ctx, p.Token, "op-1")
		assert.ErrorIs(t, err, ErrProposalNotFound)
	})
}
