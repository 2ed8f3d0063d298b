package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

func TestReaderDirectory_Lookup(t *testing.T) {
	mem := store.NewMemory()
	mem.AddPassenger(models.Passenger{ID: "p-1", Identity: "118520147", Name: "Laura Gomez"}, 0)
	dir := NewReaderDirectory(mem, time.Second)

	t.Run("hit", func(t *testing.T) {
		p, err := dir.Lookup(context.Background(), "118520147")
		require.NoError(t, err)
		assert.Equal(t, "p-1", p.ID)
	})

	t.Run("miss", func(t *testing.T) {
		_, err := dir.Lookup(context.Background(), "999999")
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})

	t.Run("unreachable store is systemic", func(t *testing.T) {
		down := store.NewMemory()
		down.Unavailable = true
		_, err := NewReaderDirectory(down, 0).Lookup(context.Background(), "118520147")
		assert.ErrorIs(t, err, ErrSystemic)
		assert.ErrorIs(t, err, store.ErrUnavailable)
	})
}

func TestCachedDirectory_Lookup(t *testing.T) {
	ctx := context.Background()
	passenger := models.Passenger{ID: "p-1", Identity: "118520147", Name: "Laura Gomez", ClientCompany: "Acme", ContractType: "PREPAID"}
	data, _ := json.Marshal(passenger)

	t.Run("cache hit skips the directory", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := new(MockPassengerDirectory)
		dir := NewCachedDirectory(next, db, time.Minute)

		mock.ExpectGet("recon:passenger:118520147").SetVal(string(data))

		p, err := dir.Lookup(ctx, "118520147")
		require.NoError(t, err)
		assert.Equal(t, passenger, *p)
		next.AssertNotCalled(t, "Lookup")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache miss populates the cache", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := new(MockPassengerDirectory)
		dir := NewCachedDirectory(next, db, time.Minute)

		mock.ExpectGet("recon:passenger:118520147").RedisNil()
		next.On("Lookup", ctx, "118520147").Return(&passenger, nil)
		mock.ExpectSet("recon:passenger:118520147", data, time.Minute).SetVal("OK")

		p, err := dir.Lookup(ctx, "118520147")
		require.NoError(t, err)
		assert.Equal(t, "p-1", p.ID)
		next.AssertExpectations(t)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found is not cached", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := new(MockPassengerDirectory)
		dir := NewCachedDirectory(next, db, time.Minute)

		mock.ExpectGet("recon:passenger:000000").RedisNil()
		next.On("Lookup", ctx, "000000").Return(nil, ErrMatchNotFound)

		_, err := dir.Lookup(ctx, "000000")
		assert.ErrorIs(t, err, ErrMatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure falls through", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := new(MockPassengerDirectory)
		dir := NewCachedDirectory(next, db, time.Minute)

		mock.ExpectGet("recon:passenger:118520147").SetErr(errors.New("connection refused"))
		next.On("Lookup", ctx, "118520147").Return(&passenger, nil)
		mock.ExpectSet("recon:passenger:118520147", data, time.Minute).SetErr(errors.New("connection refused"))

		p, err := dir.Lookup(ctx, "118520147")
		require.NoError(t, err)
		assert.Equal(t, "p-1", p.ID)
	})

	t.Run("nil client delegates", func(t *testing.T) {
		next := new(MockPassengerDirectory)
		next.On("Lookup", ctx, "118520147").Return(&passenger, nil)

		p, err := NewCachedDirectory(next, nil, time.Minute).Lookup(ctx, "118520147")
		require.NoError(t, err)
		assert.Equal(t, "p-1", p.ID)
	})
}
