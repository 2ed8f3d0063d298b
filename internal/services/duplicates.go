package services

import (
	"context"
	"sort"

	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

// DuplicateLine is a candidate excluded because its key is already taken.
type DuplicateLine struct {
	Line models.SettlementLine `json:"line"`
	// HeldBy is the line that owns the credit key.
	HeldBy string `json:"heldBy"`
}

type CreditPartition struct {
	Creditable      []models.SettlementLine
	AlreadyCredited []DuplicateLine
}

// DuplicateDetector is a read-only pre-filter over the credit application log.
type DuplicateDetector struct {
	credits store.CreditStore
}

func NewDuplicateDetector(credits store.CreditStore) *DuplicateDetector {
	return &DuplicateDetector{credits: credits}
}

// Partition splits candidates by (identity, reference). A key with an APPLIED
// record on another line excludes the candidate, as does a key already seen
// earlier in the candidate set ordered by file and line number. A line that
// itself holds the APPLIED record stays creditable so the ledger reports it.
func (d *DuplicateDetector) Partition(ctx context.Context, lines []models.SettlementLine) (*CreditPartition, error) {
	ordered := make([]models.SettlementLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].FileID != ordered[j].FileID {
			return ordered[i].FileID < ordered[j].FileID
		}
		return ordered[i].LineNumber < ordered[j].LineNumber
	})

	keys := make([]models.CreditKey, 0, len(ordered))
	for i := range ordered {
		keys = append(keys, ordered[i].Key())
	}
	applied, err := d.credits.AppliedCreditLines(ctx, keys)
	if err != nil {
		return nil, systemic("load applied credits", err)
	}

	out := &CreditPartition{}
	seen := make(map[models.CreditKey]string, len(ordered))
	for _, line := range ordered {
		key := line.Key()
		if holder, ok := applied[key]; ok && holder != line.ID {
			out.AlreadyCredited = append(out.AlreadyCredited, DuplicateLine{Line: line, HeldBy: holder})
			continue
		}
		if holder, ok := seen[key]; ok {
			out.AlreadyCredited = append(out.AlreadyCredited, DuplicateLine{Line: line, HeldBy: holder})
			continue
		}
		seen[key] = line.ID
		out.Creditable = append(out.Creditable, line)
	}
	return out, nil
}
