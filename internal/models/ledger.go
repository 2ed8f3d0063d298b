package models

import (
	"time"
)

// CreditOutcome is the result recorded for one credit attempt.
type CreditOutcome string

const (
	CreditApplied        CreditOutcome = "APPLIED"
	CreditRejected       CreditOutcome = "REJECTED"
	CreditAlreadyApplied CreditOutcome = "ALREADY_APPLIED"
)

// CreditKey identifies a credit globally: one APPLIED record per key.
type CreditKey struct {
	Identity  string `json:"identity"`
	Reference string `json:"reference"`
}

// CreditApplicationRecord is an append-only ledger audit entry.
type CreditApplicationRecord struct {
	ID          string        `json:"id" db:"id"`
	LineID      string        `json:"lineId" db:"line_id"`
	FileID      string        `json:"fileId" db:"file_id"`
	PassengerID string        `json:"passengerId" db:"passenger_id"`
	Identity    string        `json:"identity" db:"identity"`
	Reference   string        `json:"reference" db:"reference"`
	Amount      int64         `json:"amount" db:"amount"` // in minor units
	AppliedAt   time.Time     `json:"appliedAt" db:"applied_at"`
	AppliedBy   string        `json:"appliedBy" db:"applied_by"`
	Outcome     CreditOutcome `json:"outcome" db:"outcome"`
	Reason      string        `json:"reason,omitempty" db:"reason"`
}

type PassengerAccount struct {
	PassengerID string    `json:"passengerId" db:"passenger_id"`
	Balance     int64     `json:"balance" db:"balance"`
	Version     int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
