package models

import (
	"time"
)

// FileStatus is the derived reconciliation status of a settlement file.
type FileStatus string

const (
	FileStatusSuccess    FileStatus = "SUCCESS"
	FileStatusPartial    FileStatus = "PARTIAL"
	FileStatusWithErrors FileStatus = "WITH_ERRORS"
)

// CreditState moves once, from NONE to CREDITED.
type CreditState string

const (
	CreditStateNone     CreditState = "NONE"
	CreditStateCredited CreditState = "CREDITED"
)

// SettlementFile represents one uploaded settlement batch
type SettlementFile struct {
	ID             string     `json:"id" db:"id"`
	UploadedAt     time.Time  `json:"uploadedAt" db:"uploaded_at"`
	UploadedBy     string     `json:"uploadedBy" db:"uploaded_by"`
	FileName       string     `json:"fileName" db:"file_name"`
	TotalLines     int        `json:"totalLines" db:"total_lines"`
	MatchedLines   int        `json:"matchedLines" db:"matched_lines"`
	UnmatchedLines int        `json:"unmatchedLines" db:"unmatched_lines"`
	ParseErrors    int        `json:"parseErrors" db:"parse_errors"`
	CreditedLines  int        `json:"creditedLines" db:"credited_lines"`
	TotalAmount    int64      `json:"totalAmount" db:"total_amount"` // minor units
	MatchedAmount  int64      `json:"matchedAmount" db:"matched_amount"`
	CreditedAmount int64      `json:"creditedAmount" db:"credited_amount"`
	Status         FileStatus `json:"status" db:"status"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// SettlementLine represents one row of a settlement file
type SettlementLine struct {
	ID           string      `json:"id" db:"id"`
	FileID       string      `json:"fileId" db:"file_id"`
	LineNumber   int         `json:"lineNumber" db:"line_number"`
	RawIdentity  string      `json:"rawIdentity" db:"raw_identity"`
	PayerName    string      `json:"payerName" db:"payer_name"`
	Amount       int64       `json:"amount" db:"amount"` // minor units, always > 0
	MovementDate time.Time   `json:"movementDate" db:"movement_date"`
	Reference    string      `json:"reference" db:"reference"`
	Matched      bool        `json:"matched" db:"matched"`
	PassengerID  string      `json:"passengerId,omitempty" db:"passenger_id"`
	CreditState  CreditState `json:"creditState" db:"credit_state"`
	CreditedAt   *time.Time  `json:"creditedAt,omitempty" db:"credited_at"`
	CorrectedBy  string      `json:"correctedBy,omitempty" db:"corrected_by"`
	CorrectedAt  *time.Time  `json:"correctedAt,omitempty" db:"corrected_at"`
}

// Credited reports whether the line already carries a credit.
func (l *SettlementLine) Credited() bool {
	return l.CreditState == CreditStateCredited
}

// Key returns the duplicate-detection key of the line.
func (l *SettlementLine) Key() CreditKey {
	return CreditKey{Identity: l.RawIdentity, Reference: l.Reference}
}

// ParseError describes a settlement row that could not be ingested.
type ParseError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// FileFilter narrows the settlement file history.
type FileFilter struct {
	From       *time.Time
	To         *time.Time
	UploadedBy string
	FileName   string // substring, case-insensitive
	Limit      int
}

// LineCorrection is the manual resolution applied to an unmatched line.
type LineCorrection struct {
	LineID      string
	Identity    string
	PassengerID string
	CorrectedBy string
	CorrectedAt time.Time
}
