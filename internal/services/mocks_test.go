package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/transitpay/backoffice/internal/models"
)

type MockPassengerDirectory struct {
	mock.Mock
}

func (m *MockPassengerDirectory) Lookup(ctx context.Context, identity string) (*models.Passenger, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Passenger), args.Error(1)
}

type MockProposalStore struct {
	mock.Mock
}

func (m *MockProposalStore) Save(ctx context.Context, p *ResolutionProposal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockProposalStore) Take(ctx context.Context, token string) (*ResolutionProposal, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ResolutionProposal), args.Error(1)
}
