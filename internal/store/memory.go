package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/transitpay/backoffice/internal/models"
)

// Memory is an in-process Store. Credit units of work are serialized.
type Memory struct {
	mu         sync.RWMutex
	creditMu   sync.Mutex
	passengers map[string]models.Passenger // by identity
	accounts   map[string]*models.PassengerAccount
	files      map[string]*models.SettlementFile
	lines      map[string]*models.SettlementLine
	fileLines  map[string][]string
	records    []models.CreditApplicationRecord
	applied    map[models.CreditKey]string
	batches    []models.CreditBatch

	// BalanceFault, when set, is consulted before every balance update.
	BalanceFault func(passengerID string) error
	// Unavailable makes every call fail with ErrUnavailable.
	Unavailable bool
}

func NewMemory() *Memory {
	return &Memory{
		passengers: make(map[string]models.Passenger),
		accounts:   make(map[string]*models.PassengerAccount),
		files:      make(map[string]*models.SettlementFile),
		lines:      make(map[string]*models.SettlementLine),
		fileLines:  make(map[string][]string),
		applied:    make(map[models.CreditKey]string),
	}
}

// AddPassenger registers a directory entry with an opening balance.
func (m *Memory) AddPassenger(p models.Passenger, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passengers[p.Identity] = p
	m.accounts[p.ID] = &models.PassengerAccount{PassengerID: p.ID, Balance: balance, UpdatedAt: time.Now()}
}

// Account returns a copy of the passenger account.
func (m *Memory) Account(passengerID string) (models.PassengerAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[passengerID]
	if !ok {
		return models.PassengerAccount{}, false
	}
	return *acc, true
}

func (m *Memory) check() error {
	if m.Unavailable {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) FindPassengerByIdentity(ctx context.Context, identity string) (*models.Passenger, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.passengers[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) CreateFile(ctx context.Context, file *models.SettlementFile, lines []models.SettlementLine) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[file.ID]; ok {
		return fmt.Errorf("file %s: %w", file.ID, ErrConflict)
	}
	f := *file
	m.files[file.ID] = &f
	ids := make([]string, 0, len(lines))
	for i := range lines {
		l := lines[i]
		m.lines[l.ID] = &l
		ids = append(ids, l.ID)
	}
	m.fileLines[file.ID] = ids
	return nil
}

func (m *Memory) GetFile(ctx context.Context, id string) (*models.SettlementFile, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *f
	return &out, nil
}

func (m *Memory) ListFiles(ctx context.Context, filter models.FileFilter) ([]models.SettlementFile, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(filter.FileName)
	var out []models.SettlementFile
	for _, f := range m.files {
		if filter.From != nil && f.UploadedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !f.UploadedAt.Before(*filter.To) {
			continue
		}
		if filter.UploadedBy != "" && f.UploadedBy != filter.UploadedBy {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(f.FileName), needle) {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateFileSummary(ctx context.Context, file *models.SettlementFile) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[file.ID]
	if !ok {
		return ErrNotFound
	}
	// identity fields are immutable
	updated := *file
	updated.UploadedAt, updated.UploadedBy, updated.FileName = f.UploadedAt, f.UploadedBy, f.FileName
	*f = updated
	return nil
}

func (m *Memory) GetLine(ctx context.Context, id string) (*models.SettlementLine, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lines[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *l
	return &out, nil
}

func (m *Memory) GetLines(ctx context.Context, ids []string) ([]models.SettlementLine, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SettlementLine, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.lines[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *Memory) ListLines(ctx context.Context, fileID string) ([]models.SettlementLine, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.fileLines[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.SettlementLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.lines[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, nil
}

func (m *Memory) MarkMatched(ctx context.Context, lineID, passengerID string) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[lineID]
	if !ok {
		return ErrNotFound
	}
	if l.Credited() {
		return fmt.Errorf("line %s already credited: %w", lineID, ErrConflict)
	}
	l.Matched = true
	l.PassengerID = passengerID
	return nil
}

func (m *Memory) CorrectLine(ctx context.Context, c models.LineCorrection) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[c.LineID]
	if !ok {
		return ErrNotFound
	}
	if l.Matched || l.Credited() {
		return fmt.Errorf("line %s is not correctable: %w", c.LineID, ErrConflict)
	}
	at := c.CorrectedAt
	l.RawIdentity = c.Identity
	l.PassengerID = c.PassengerID
	l.Matched = true
	l.CorrectedBy = c.CorrectedBy
	l.CorrectedAt = &at
	return nil
}

func (m *Memory) AppliedCreditLines(ctx context.Context, keys []models.CreditKey) (map[models.CreditKey]string, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.CreditKey]string)
	for _, k := range keys {
		if lineID, ok := m.applied[k]; ok {
			out[k] = lineID
		}
	}
	return out, nil
}

func (m *Memory) LatestOutcomes(ctx context.Context, fileID string) (map[string]models.CreditOutcome, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.CreditOutcome)
	// records are appended in time order
	for _, r := range m.records {
		if r.FileID == fileID {
			out[r.LineID] = r.Outcome
		}
	}
	return out, nil
}

func (m *Memory) AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(*rec)
}

func (m *Memory) appendLocked(rec models.CreditApplicationRecord) error {
	if rec.Outcome == models.CreditApplied {
		key := models.CreditKey{Identity: rec.Identity, Reference: rec.Reference}
		if _, ok := m.applied[key]; ok {
			return fmt.Errorf("credit key %s/%s: %w", key.Identity, key.Reference, ErrConflict)
		}
		m.applied[key] = rec.LineID
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) ListCreditRecords(ctx context.Context, fileID string, outcome models.CreditOutcome) ([]models.CreditApplicationRecord, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CreditApplicationRecord
	for _, r := range m.records {
		if r.FileID == fileID && (outcome == "" || r.Outcome == outcome) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) SaveBatch(ctx context.Context, batch *models.CreditBatch) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *batch)
	return nil
}

func (m *Memory) ListBatches(ctx context.Context, fileID string) ([]models.CreditBatch, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CreditBatch
	for i := len(m.batches) - 1; i >= 0; i-- {
		for _, id := range m.batches[i].FileIDs {
			if id == fileID {
				out = append(out, m.batches[i])
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) BeginCredit(ctx context.Context) (CreditTx, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.creditMu.Lock()
	return &memoryTx{m: m, balances: make(map[string]int64)}, nil
}

type memoryTx struct {
	m        *Memory
	done     bool
	credited []stagedCredit
	records  []models.CreditApplicationRecord
	balances map[string]int64
}

type stagedCredit struct {
	lineID string
	at     time.Time
}

func (tx *memoryTx) MarkCredited(ctx context.Context, lineID string, at time.Time) (bool, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	l, ok := tx.m.lines[lineID]
	if !ok {
		return false, ErrNotFound
	}
	if l.Credited() || !l.Matched {
		return false, nil
	}
	for _, c := range tx.credited {
		if c.lineID == lineID {
			return false, nil
		}
	}
	tx.credited = append(tx.credited, stagedCredit{lineID: lineID, at: at})
	return true, nil
}

func (tx *memoryTx) AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if rec.Outcome == models.CreditApplied {
		key := models.CreditKey{Identity: rec.Identity, Reference: rec.Reference}
		if _, ok := tx.m.applied[key]; ok {
			return fmt.Errorf("credit key %s/%s: %w", key.Identity, key.Reference, ErrConflict)
		}
	}
	tx.records = append(tx.records, *rec)
	return nil
}

func (tx *memoryTx) AddToBalance(ctx context.Context, passengerID string, amount int64) (int64, error) {
	if tx.m.BalanceFault != nil {
		if err := tx.m.BalanceFault(passengerID); err != nil {
			return 0, err
		}
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	acc, ok := tx.m.accounts[passengerID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", passengerID, ErrNotFound)
	}
	tx.balances[passengerID] += amount
	return acc.Balance + tx.balances[passengerID], nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	defer tx.m.creditMu.Unlock()

	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for _, r := range tx.records {
		key := models.CreditKey{Identity: r.Identity, Reference: r.Reference}
		if _, ok := tx.m.applied[key]; ok && r.Outcome == models.CreditApplied {
			return fmt.Errorf("credit key %s/%s: %w", key.Identity, key.Reference, ErrConflict)
		}
	}
	for _, c := range tx.credited {
		l := tx.m.lines[c.lineID]
		at := c.at
		l.CreditState = models.CreditStateCredited
		l.CreditedAt = &at
	}
	for _, r := range tx.records {
		_ = tx.m.appendLocked(r)
	}
	now := time.Now()
	for id, delta := range tx.balances {
		acc := tx.m.accounts[id]
		acc.Balance += delta
		acc.Version++
		acc.UpdatedAt = now
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.m.creditMu.Unlock()
	return nil
}
