package models

import "time"

// LineOutcome is the per-line bucket reported in a batch summary.
type LineOutcome string

const (
	LineApplied        LineOutcome = "APPLIED"
	LineAlreadyApplied LineOutcome = "ALREADY_APPLIED"
	LineDuplicated     LineOutcome = "DUPLICATED"
	LineRejected       LineOutcome = "REJECTED"
	LineSkipped        LineOutcome = "SKIPPED"
)

type LineResult struct {
	LineID    string      `json:"lineId"`
	FileID    string      `json:"fileId,omitempty"`
	Identity  string      `json:"identity,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Amount    int64       `json:"amount"`
	Outcome   LineOutcome `json:"outcome"`
	Reason    string      `json:"reason,omitempty"`
}

// BatchSummary is returned to the operator after applyCredits.
type BatchSummary struct {
	BatchID            string       `json:"batchId"`
	Applied            int          `json:"applied"`
	AlreadyApplied     int          `json:"alreadyApplied"`
	Duplicated         int          `json:"duplicated"`
	Errored            int          `json:"errored"`
	Skipped            int          `json:"skipped"`
	TotalAmountApplied int64        `json:"totalAmountApplied"`
	DuplicatedAmount   int64        `json:"duplicatedAmount"`
	ErroredAmount      int64        `json:"erroredAmount"`
	Lines              []LineResult `json:"lines"`
	Replayed           bool         `json:"replayed,omitempty"`
}

// CreditBatch persists a summary against the history of the files it touched.
type CreditBatch struct {
	ID          string       `json:"id" db:"id"`
	FileIDs     []string     `json:"fileIds" db:"file_ids"`
	RequestedBy string       `json:"requestedBy" db:"requested_by"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	Summary     BatchSummary `json:"summary" db:"summary"`
}
