package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/transitpay/backoffice/internal/models"
)

func TestSummarize(t *testing.T) {
	results := []models.LineResult{
		{LineID: "a", Amount: 100, Outcome: models.LineApplied},
		{LineID: "b", Amount: 200, Outcome: models.LineApplied},
		{LineID: "c", Amount: 300, Outcome: models.LineDuplicated},
		{LineID: "d", Amount: 400, Outcome: models.LineRejected},
		{LineID: "e", Amount: 500, Outcome: models.LineAlreadyApplied},
		{LineID: "f", Amount: 600, Outcome: models.LineSkipped},
	}

	s := Summarize("b-1", results)
	assert.Equal(t, "b-1", s.BatchID)
	assert.Equal(t, 2, s.Applied)
	assert.Equal(t, 1, s.Duplicated)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 1, s.AlreadyApplied)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, int64(300), s.TotalAmountApplied)
	assert.Equal(t, int64(300), s.DuplicatedAmount)
	assert.Equal(t, int64(400), s.ErroredAmount)
	assert.Len(t, s.Lines, 6)

	empty := Summarize("b-2", nil)
	assert.NotNil(t, empty.Lines)
	assert.Zero(t, empty.TotalAmountApplied)
}

func TestRecomputeFile(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	line := func(id string, amount int64, matched, credited bool) models.SettlementLine {
		l := models.SettlementLine{ID: id, Amount: amount, Matched: matched, CreditState: models.CreditStateNone}
		if credited {
			l.CreditState = models.CreditStateCredited
		}
		return l
	}

	tests := []struct {
		name        string
		parseErrors int
		lines       []models.SettlementLine
		latest      map[string]models.CreditOutcome
		want        models.FileStatus
	}{
		{
			name:  "all matched never batched",
			lines: []models.SettlementLine{line("a", 1, true, false), line("b", 2, true, false)},
			want:  models.FileStatusSuccess,
		},
		{
			name:  "one unmatched",
			lines: []models.SettlementLine{line("a", 1, true, false), line("b", 2, true, false), line("c", 3, false, false)},
			want:  models.FileStatusPartial,
		},
		{
			name:   "all credited",
			lines:  []models.SettlementLine{line("a", 1, true, true), line("b", 2, true, true)},
			latest: map[string]models.CreditOutcome{"a": models.CreditApplied, "b": models.CreditApplied},
			want:   models.FileStatusSuccess,
		},
		{
			name:   "credited and duplicate mix",
			lines:  []models.SettlementLine{line("a", 1, true, true), line("b", 2, true, false)},
			latest: map[string]models.CreditOutcome{"a": models.CreditApplied, "b": models.CreditAlreadyApplied},
			want:   models.FileStatusPartial,
		},
		{
			name:   "rejected line",
			lines:  []models.SettlementLine{line("a", 1, true, true), line("b", 2, true, false)},
			latest: map[string]models.CreditOutcome{"a": models.CreditApplied, "b": models.CreditRejected},
			want:   models.FileStatusWithErrors,
		},
		{
			name:   "rejected then applied on retry",
			lines:  []models.SettlementLine{line("a", 1, true, true)},
			latest: map[string]models.CreditOutcome{"a": models.CreditApplied},
			want:   models.FileStatusSuccess,
		},
		{
			name:        "parse errors keep the file partial",
			parseErrors: 1,
			lines:       []models.SettlementLine{line("a", 1, true, false)},
			want:        models.FileStatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := models.SettlementFile{ID: "f-1", ParseErrors: tt.parseErrors, Status: models.FileStatusSuccess}
			got := RecomputeFile(file, tt.lines, tt.latest, now)
			assert.Equal(t, tt.want, got.Status)
			assert.LessOrEqual(t, got.MatchedLines, got.TotalLines)
			assert.LessOrEqual(t, got.MatchedAmount, got.TotalAmount)
			assert.Equal(t, got.TotalLines-got.MatchedLines, got.UnmatchedLines)
			assert.Equal(t, now, got.UpdatedAt)

			again := RecomputeFile(got, tt.lines, tt.latest, now)
			assert.Equal(t, got, again)
		})
	}

	t.Run("counters", func(t *testing.T) {
		lines := []models.SettlementLine{line("a", 100, true, true), line("b", 250, true, false), line("c", 50, false, false)}
		got := RecomputeFile(models.SettlementFile{}, lines, nil, now)
		assert.Equal(t, 3, got.TotalLines)
		assert.Equal(t, 2, got.MatchedLines)
		assert.Equal(t, 1, got.UnmatchedLines)
		assert.Equal(t, 1, got.CreditedLines)
		assert.Equal(t, int64(400), got.TotalAmount)
		assert.Equal(t, int64(350), got.MatchedAmount)
		assert.Equal(t, int64(100), got.CreditedAmount)
	})
}
