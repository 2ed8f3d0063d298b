package services

import (
	"time"

	"github.com/transitpay/backoffice/internal/models"
)

// Summarize folds per-line results into the operator-facing summary.
// ALREADY_APPLIED lines contribute to no amount.
func Summarize(batchID string, results []models.LineResult) models.BatchSummary {
	summary := models.BatchSummary{
		BatchID: batchID,
		Lines:   make([]models.LineResult, 0, len(results)),
	}
	for _, r := range results {
		switch r.Outcome {
		case models.LineApplied:
			summary.Applied++
			summary.TotalAmountApplied += r.Amount
		case models.LineAlreadyApplied:
			summary.AlreadyApplied++
		case models.LineDuplicated:
			summary.Duplicated++
			summary.DuplicatedAmount += r.Amount
		case models.LineRejected:
			summary.Errored++
			summary.ErroredAmount += r.Amount
		default:
			summary.Skipped++
		}
		summary.Lines = append(summary.Lines, r)
	}
	return summary
}

// RecomputeFile derives counters and status from the current line states and
// the latest ledger outcome per line. It is a pure function of its inputs.
func RecomputeFile(file models.SettlementFile, lines []models.SettlementLine, latest map[string]models.CreditOutcome, now time.Time) models.SettlementFile {
	file.TotalLines = len(lines)
	file.TotalAmount = 0
	file.MatchedLines = 0
	file.MatchedAmount = 0
	file.CreditedLines = 0
	file.CreditedAmount = 0

	rejected := false
	processed := false
	for i := range lines {
		l := &lines[i]
		file.TotalAmount += l.Amount
		if l.Matched {
			file.MatchedLines++
			file.MatchedAmount += l.Amount
		}
		if l.Credited() {
			file.CreditedLines++
			file.CreditedAmount += l.Amount
		}
		outcome, ok := latest[l.ID]
		if ok || l.Credited() {
			processed = true
		}
		if ok && outcome == models.CreditRejected && !l.Credited() {
			rejected = true
		}
	}
	file.UnmatchedLines = file.TotalLines - file.MatchedLines

	allMatched := file.UnmatchedLines == 0 && file.ParseErrors == 0
	switch {
	case rejected:
		file.Status = models.FileStatusWithErrors
	case allMatched && (!processed || file.CreditedLines == file.MatchedLines):
		file.Status = models.FileStatusSuccess
	default:
		file.Status = models.FileStatusPartial
	}
	file.UpdatedAt = now
	return file
}
