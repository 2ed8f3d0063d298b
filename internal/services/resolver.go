package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/metrics"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

// ResolvedPassenger is the outcome of a confirmed manual resolution.
type ResolvedPassenger struct {
	Line      models.SettlementLine `json:"line"`
	Passenger models.Passenger      `json:"passenger"`
}

// ManualReconciliationResolver corrects lines the matcher could not bind.
// Propose never mutates; Confirm is the only call that writes the line.
type ManualReconciliationResolver struct {
	lines     store.SettlementStore
	directory PassengerDirectory
	proposals ProposalStore
	validator *ValidationHelper
	audit     *audit.Logger
	ttl       time.Duration
	now       func() time.Time
}

func NewManualReconciliationResolver(
	lines store.SettlementStore,
	directory PassengerDirectory,
	proposals ProposalStore,
	validator *ValidationHelper,
	auditLogger *audit.Logger,
	ttl time.Duration,
) *ManualReconciliationResolver {
	return &ManualReconciliationResolver{
		lines:     lines,
		directory: directory,
		proposals: proposals,
		validator: validator,
		audit:     auditLogger,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Propose validates the corrected identity, looks it up and returns a
// candidate for the operator to confirm.
func (r *ManualReconciliationResolver) Propose(ctx context.Context, lineID, identity, operator string) (*ResolutionProposal, error) {
	log := logger.FromContext(ctx)
	identity = strings.TrimSpace(identity)

	if err := r.validator.ValidateIdentity(identity); err != nil {
		metrics.IncResolution("propose", "invalid")
		return nil, err
	}

	line, err := r.lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, storeErr("load line", err, ErrLineNotFound)
	}
	if line.Matched || line.Credited() {
		metrics.IncResolution("propose", "not_eligible")
		return nil, fmt.Errorf("line %s is already matched: %w", lineID, ErrLineNotEligible)
	}

	p, err := r.directory.Lookup(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			metrics.IncResolution("propose", "not_found")
			log.Info().Str("line_id", lineID).Msg("[RESOLVE] Corrected identity not in directory")
		}
		return nil, err
	}

	proposal := &ResolutionProposal{
		Token:      uuid.NewString(),
		LineID:     line.ID,
		FileID:     line.FileID,
		Identity:   identity,
		Passenger:  *p,
		ProposedBy: operator,
		ExpiresAt:  r.now().Add(r.ttl),
	}
	if err := r.proposals.Save(ctx, proposal); err != nil {
		return nil, err
	}

	metrics.IncResolution("propose", metrics.ResultSuccess)
	log.Info().Str("line_id", lineID).Str("passenger_id", p.ID).Str("operator", operator).
		Msg("[RESOLVE] Resolution proposed")
	return proposal, nil
}

// Confirm consumes the proposal and corrects the line. The line must still be
// unmatched and uncredited. Credit state is never touched here. A store
// outage puts the proposal back.
func (r *ManualReconciliationResolver) Confirm(ctx context.Context, token, operator string) (*ResolvedPassenger, error) {
	log := logger.FromContext(ctx)

	proposal, err := r.proposals.Take(ctx, token)
	if err != nil {
		metrics.IncResolution("confirm", "not_found")
		return nil, err
	}

	previous, err := r.lines.GetLine(ctx, proposal.LineID)
	if err != nil {
		err = storeErr("load line", err, ErrLineNotFound)
		r.restore(ctx, proposal, err)
		return nil, err
	}

	correction := models.LineCorrection{
		LineID:      proposal.LineID,
		Identity:    proposal.Identity,
		PassengerID: proposal.Passenger.ID,
		CorrectedBy: operator,
		CorrectedAt: r.now(),
	}
	if err := r.lines.CorrectLine(ctx, correction); err != nil {
		metrics.IncResolution("confirm", metrics.ResultError)
		err = storeErr("correct line", err, ErrLineNotFound)
		r.restore(ctx, proposal, err)
		return nil, err
	}

	line, err := r.lines.GetLine(ctx, proposal.LineID)
	if err != nil {
		return nil, storeErr("reload line", err, ErrLineNotFound)
	}

	if r.audit != nil {
		r.audit.LogCorrection(line.ID, line.FileID, proposal.Passenger.ID, operator, previous.RawIdentity, proposal.Identity)
	}
	metrics.IncResolution("confirm", metrics.ResultSuccess)
	log.Info().Str("line_id", line.ID).Str("operator", operator).Str("proposed_by", proposal.ProposedBy).
		Msg("[RESOLVE] Line corrected")

	return &ResolvedPassenger{Line: *line, Passenger: proposal.Passenger}, nil
}

// restore puts a taken proposal back when the correction failed on a store
// outage, so the operator can confirm the same token again.
func (r *ManualReconciliationResolver) restore(ctx context.Context, proposal *ResolutionProposal, err error) {
	if !errors.Is(err, ErrSystemic) {
		return
	}
	if serr := r.proposals.Save(context.WithoutCancel(ctx), proposal); serr != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(serr).Str("line_id", proposal.LineID).Msg("[RESOLVE] Could not restore proposal")
	}
}
