package audit

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/transitpay/backoffice/internal/logger"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	LineID    string    `json:"line_id,omitempty"`
	FileID    string    `json:"file_id,omitempty"`
	Passenger string    `json:"passenger_id,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes audit events as a single JSON payload per line.
type Logger struct {
	out zerolog.Logger
}

func NewLogger() *Logger {
	return &Logger{out: logger.Default()}
}

// NewLoggerWithOutput is used by tests to capture events.
func NewLoggerWithOutput(out zerolog.Logger) *Logger {
	return &Logger{out: out}
}

func (a *Logger) LogCredit(lineID, fileID, passengerID, operator string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CREDIT",
		LineID:    lineID,
		FileID:    fileID,
		Passenger: passengerID,
		Operator:  operator,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogError(lineID, operator string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		LineID:    lineID,
		Operator:  operator,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogCorrection(lineID, fileID, passengerID, operator, previousIdentity, identity string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CORRECTION",
		LineID:    lineID,
		FileID:    fileID,
		Passenger: passengerID,
		Operator:  operator,
		Status:    "SUCCESS",
		Details: map[string]string{
			"previous_identity": previousIdentity,
			"identity":          identity,
		},
	})
}

func (a *Logger) LogOperation(fileID, operator, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		FileID:    fileID,
		Operator:  operator,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	a.out.Info().RawJSON("audit", data).Msg("AUDIT")
}
