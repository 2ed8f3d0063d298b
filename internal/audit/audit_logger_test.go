package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitpay/backoffice/internal/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) Event {
	t.Helper()
	var entry struct {
		Message string `json:"message"`
		Audit   Event  `json:"audit"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "AUDIT", entry.Message)
	return entry.Audit
}

func TestLogger_LogCredit(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewLoggerWithOutput(logger.NewWithWriter(buf))

	a.LogCredit("l-1", "f-1", "p-1", "op-1", 12500, "APPLIED")

	event := decode(t, buf)
	assert.Equal(t, "CREDIT", event.EventType)
	assert.Equal(t, "l-1", event.LineID)
	assert.Equal(t, int64(12500), event.Amount)
	assert.Equal(t, "APPLIED", event.Status)
}

func TestLogger_LogError(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewLoggerWithOutput(logger.NewWithWriter(buf))

	a.LogError("l-1", "op-1", errors.New("optimistic lock failed"))

	event := decode(t, buf)
	assert.Equal(t, "FAILED", event.Status)
	assert.Equal(t, map[string]any{"error": "optimistic lock failed"}, event.Details)
}

func TestLogger_LogCorrection(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewLoggerWithOutput(logger.NewWithWriter(buf))

	a.LogCorrection("l-3", "f-1", "p-9", "op-2", "11852014", "118520147")

	event := decode(t, buf)
	assert.Equal(t, "CORRECTION", event.EventType)
	assert.Equal(t, map[string]any{"previous_identity": "11852014", "identity": "118520147"}, event.Details)
}
