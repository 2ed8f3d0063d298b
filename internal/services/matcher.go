package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/metrics"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

// MatchResult is what the matcher reports for one line.
type MatchResult struct {
	LineID    string            `json:"lineId"`
	Matched   bool              `json:"matched"`
	Passenger *models.Passenger `json:"passenger,omitempty"`
}

// RecordMatcher binds settlement lines to passengers by exact identity.
type RecordMatcher struct {
	directory PassengerDirectory
	lines     store.SettlementStore
}

func NewRecordMatcher(directory PassengerDirectory, lines store.SettlementStore) *RecordMatcher {
	return &RecordMatcher{directory: directory, lines: lines}
}

// Match looks the line's identity up and marks the line matched on a hit.
// A line that is already matched is returned as is without a lookup.
func (m *RecordMatcher) Match(ctx context.Context, line *models.SettlementLine) (MatchResult, error) {
	result := MatchResult{LineID: line.ID}
	if line.Matched {
		result.Matched = true
		result.Passenger = &models.Passenger{ID: line.PassengerID, Identity: line.RawIdentity}
		return result, nil
	}

	identity := strings.TrimSpace(line.RawIdentity)
	if identity == "" {
		metrics.IncMatch(false)
		return result, nil
	}

	p, err := m.directory.Lookup(ctx, identity)
	if errors.Is(err, ErrMatchNotFound) {
		metrics.IncMatch(false)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("match line %s: %w", line.ID, err)
	}

	if err := m.lines.MarkMatched(ctx, line.ID, p.ID); err != nil {
		return result, storeErr("mark matched", err, ErrLineNotFound)
	}

	line.Matched = true
	line.PassengerID = p.ID
	result.Matched = true
	result.Passenger = p
	metrics.IncMatch(true)

	log := logger.FromContext(ctx)
	log.Debug().Str("line_id", line.ID).Str("passenger_id", p.ID).Msg("[MATCH] Line matched")
	return result, nil
}
