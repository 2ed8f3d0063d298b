package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Value implements driver.Valuer so summaries are stored as JSONB
func (s BatchSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for BatchSummary
func (s *BatchSummary) Scan(value any) error {
	if value == nil {
		*s = BatchSummary{}
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, s)
}
