package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/transitpay/backoffice/internal/models"
)

const uniqueViolation = "23505"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is the lib/pq backed Store.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *Postgres) FindPassengerByIdentity(ctx context.Context, identity string) (*models.Passenger, error) {
	var passenger models.Passenger
	err := p.db.QueryRowContext(ctx, `
		SELECT id, identity, full_name, client_company, contract_type
		FROM passengers
		WHERE identity = $1`, identity).
		Scan(&passenger.ID, &passenger.Identity, &passenger.Name, &passenger.ClientCompany, &passenger.ContractType)
	if err != nil {
		return nil, classify(err)
	}
	return &passenger, nil
}

func (p *Postgres) CreateFile(ctx context.Context, file *models.SettlementFile, lines []models.SettlementLine) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_files (id, uploaded_at, uploaded_by, file_name, total_lines, matched_lines,
			unmatched_lines, parse_errors, credited_lines, total_amount, matched_amount, credited_amount, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		file.ID, file.UploadedAt, file.UploadedBy, file.FileName, file.TotalLines, file.MatchedLines,
		file.UnmatchedLines, file.ParseErrors, file.CreditedLines, file.TotalAmount, file.MatchedAmount,
		file.CreditedAmount, string(file.Status), file.UpdatedAt)
	if err != nil {
		return classify(err)
	}

	for _, l := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO settlement_lines (id, file_id, line_number, raw_identity, payer_name, amount,
				movement_date, reference, matched, passenger_id, credit_state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.ID, l.FileID, l.LineNumber, l.RawIdentity, l.PayerName, l.Amount,
			l.MovementDate, l.Reference, l.Matched, nullString(l.PassengerID), string(l.CreditState))
		if err != nil {
			return classify(err)
		}
	}

	return classify(tx.Commit())
}

const fileColumns = `id, uploaded_at, uploaded_by, file_name, total_lines, matched_lines, unmatched_lines,
	parse_errors, credited_lines, total_amount, matched_amount, credited_amount, status, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*models.SettlementFile, error) {
	var f models.SettlementFile
	var status string
	err := row.Scan(&f.ID, &f.UploadedAt, &f.UploadedBy, &f.FileName, &f.TotalLines, &f.MatchedLines,
		&f.UnmatchedLines, &f.ParseErrors, &f.CreditedLines, &f.TotalAmount, &f.MatchedAmount,
		&f.CreditedAmount, &status, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Status = models.FileStatus(status)
	return &f, nil
}

func (p *Postgres) GetFile(ctx context.Context, id string) (*models.SettlementFile, error) {
	f, err := scanFile(p.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM settlement_files WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

func (p *Postgres) ListFiles(ctx context.Context, filter models.FileFilter) ([]models.SettlementFile, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.From != nil {
		add("uploaded_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("uploaded_at < $%d", *filter.To)
	}
	if filter.UploadedBy != "" {
		add("uploaded_by = $%d", filter.UploadedBy)
	}
	if filter.FileName != "" {
		add("file_name ILIKE '%%' || $%d || '%%'", filter.FileName)
	}

	query := `SELECT ` + fileColumns + ` FROM settlement_files`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY uploaded_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var files []models.SettlementFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify(err)
		}
		files = append(files, *f)
	}
	return files, classify(rows.Err())
}

func (p *Postgres) UpdateFileSummary(ctx context.Context, file *models.SettlementFile) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_files
		SET total_lines = $2, matched_lines = $3, unmatched_lines = $4, parse_errors = $5, credited_lines = $6,
			total_amount = $7, matched_amount = $8, credited_amount = $9, status = $10, updated_at = $11
		WHERE id = $1`,
		file.ID, file.TotalLines, file.MatchedLines, file.UnmatchedLines, file.ParseErrors, file.CreditedLines,
		file.TotalAmount, file.MatchedAmount, file.CreditedAmount, string(file.Status), file.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const lineColumns = `id, file_id, line_number, raw_identity, payer_name, amount, movement_date, reference,
	matched, passenger_id, credit_state, credited_at, corrected_by, corrected_at`

func scanLine(row scanner) (*models.SettlementLine, error) {
	var l models.SettlementLine
	var passengerID, correctedBy sql.NullString
	var creditedAt, correctedAt sql.NullTime
	var state string
	err := row.Scan(&l.ID, &l.FileID, &l.LineNumber, &l.RawIdentity, &l.PayerName, &l.Amount, &l.MovementDate,
		&l.Reference, &l.Matched, &passengerID, &state, &creditedAt, &correctedBy, &correctedAt)
	if err != nil {
		return nil, err
	}
	l.PassengerID = passengerID.String
	l.CorrectedBy = correctedBy.String
	l.CreditState = models.CreditState(state)
	if creditedAt.Valid {
		l.CreditedAt = &creditedAt.Time
	}
	if correctedAt.Valid {
		l.CorrectedAt = &correctedAt.Time
	}
	return &l, nil
}

func (p *Postgres) queryLines(ctx context.Context, query string, args ...any) ([]models.SettlementLine, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var lines []models.SettlementLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, classify(err)
		}
		lines = append(lines, *l)
	}
	return lines, classify(rows.Err())
}

func (p *Postgres) GetLine(ctx context.Context, id string) (*models.SettlementLine, error) {
	l, err := scanLine(p.db.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM settlement_lines WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return l, nil
}

func (p *Postgres) GetLines(ctx context.Context, ids []string) ([]models.SettlementLine, error) {
	return p.queryLines(ctx, `SELECT `+lineColumns+` FROM settlement_lines WHERE id = ANY($1) ORDER BY file_id, line_number`,
		pq.Array(ids))
}

func (p *Postgres) ListLines(ctx context.Context, fileID string) ([]models.SettlementLine, error) {
	lines, err := p.queryLines(ctx, `SELECT `+lineColumns+` FROM settlement_lines WHERE file_id = $1 ORDER BY line_number`, fileID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		if _, err := p.GetFile(ctx, fileID); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// lineConflict tells a missing line apart from a guard that did not hold.
func (p *Postgres) lineConflict(ctx context.Context, lineID string) error {
	var state string
	err := p.db.QueryRowContext(ctx, `SELECT credit_state FROM settlement_lines WHERE id = $1`, lineID).Scan(&state)
	if err != nil {
		return classify(err)
	}
	return fmt.Errorf("line %s (%s): %w", lineID, state, ErrConflict)
}

func (p *Postgres) MarkMatched(ctx context.Context, lineID, passengerID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_lines
		SET matched = TRUE, passenger_id = $2
		WHERE id = $1 AND credit_state = 'NONE'`, lineID, passengerID)
	if err != nil {
		return classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rowsAffected == 0 {
		return p.lineConflict(ctx, lineID)
	}
	return nil
}

func (p *Postgres) CorrectLine(ctx context.Context, c models.LineCorrection) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_lines
		SET raw_identity = $2, passenger_id = $3, matched = TRUE, corrected_by = $4, corrected_at = $5
		WHERE id = $1 AND matched = FALSE AND credit_state = 'NONE'`,
		c.LineID, c.Identity, c.PassengerID, c.CorrectedBy, c.CorrectedAt)
	if err != nil {
		return classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rowsAffected == 0 {
		return p.lineConflict(ctx, c.LineID)
	}
	return nil
}

func (p *Postgres) AppliedCreditLines(ctx context.Context, keys []models.CreditKey) (map[models.CreditKey]string, error) {
	out := make(map[models.CreditKey]string)
	if len(keys) == 0 {
		return out, nil
	}
	identities := make([]string, len(keys))
	references := make([]string, len(keys))
	for i, k := range keys {
		identities[i], references[i] = k.Identity, k.Reference
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT identity, reference, line_id
		FROM credit_applications
		WHERE outcome = 'APPLIED'
		  AND (identity, reference) IN (SELECT * FROM unnest($1::text[], $2::text[]))`,
		pq.Array(identities), pq.Array(references))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var k models.CreditKey
		var lineID string
		if err := rows.Scan(&k.Identity, &k.Reference, &lineID); err != nil {
			return nil, classify(err)
		}
		out[k] = lineID
	}
	return out, classify(rows.Err())
}

func (p *Postgres) LatestOutcomes(ctx context.Context, fileID string) (map[string]models.CreditOutcome, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (line_id) line_id, outcome
		FROM credit_applications
		WHERE file_id = $1
		ORDER BY line_id, applied_at DESC`, fileID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string]models.CreditOutcome)
	for rows.Next() {
		var lineID, outcome string
		if err := rows.Scan(&lineID, &outcome); err != nil {
			return nil, classify(err)
		}
		out[lineID] = models.CreditOutcome(outcome)
	}
	return out, classify(rows.Err())
}

func appendRecord(ctx context.Context, q dbtx, rec *models.CreditApplicationRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_applications (id, line_id, file_id, passenger_id, identity, reference, amount,
			applied_at, applied_by, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.LineID, rec.FileID, rec.PassengerID, rec.Identity, rec.Reference, rec.Amount,
		rec.AppliedAt, rec.AppliedBy, string(rec.Outcome), rec.Reason)
	return classify(err)
}

func (p *Postgres) AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error {
	return appendRecord(ctx, p.db, rec)
}

func (p *Postgres) ListCreditRecords(ctx context.Context, fileID string, outcome models.CreditOutcome) ([]models.CreditApplicationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, line_id, file_id, passenger_id, identity, reference, amount, applied_at, applied_by, outcome, reason
		FROM credit_applications
		WHERE file_id = $1 AND ($2 = '' OR outcome = $2)
		ORDER BY applied_at`, fileID, string(outcome))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []models.CreditApplicationRecord
	for rows.Next() {
		var r models.CreditApplicationRecord
		var o string
		if err := rows.Scan(&r.ID, &r.LineID, &r.FileID, &r.PassengerID, &r.Identity, &r.Reference, &r.Amount,
			&r.AppliedAt, &r.AppliedBy, &o, &r.Reason); err != nil {
			return nil, classify(err)
		}
		r.Outcome = models.CreditOutcome(o)
		records = append(records, r)
	}
	return records, classify(rows.Err())
}

func (p *Postgres) SaveBatch(ctx context.Context, batch *models.CreditBatch) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credit_batches (id, file_ids, requested_by, created_at, summary)
		VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, pq.Array(batch.FileIDs), batch.RequestedBy, batch.CreatedAt, batch.Summary)
	return classify(err)
}

func (p *Postgres) ListBatches(ctx context.Context, fileID string) ([]models.CreditBatch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, file_ids, requested_by, created_at, summary
		FROM credit_batches
		WHERE $1 = ANY(file_ids)
		ORDER BY created_at DESC`, fileID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var batches []models.CreditBatch
	for rows.Next() {
		var b models.CreditBatch
		if err := rows.Scan(&b.ID, pq.Array(&b.FileIDs), &b.RequestedBy, &b.CreatedAt, &b.Summary); err != nil {
			return nil, classify(err)
		}
		batches = append(batches, b)
	}
	return batches, classify(rows.Err())
}

func (p *Postgres) BeginCredit(ctx context.Context) (CreditTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) MarkCredited(ctx context.Context, lineID string, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE settlement_lines
		SET credit_state = 'CREDITED', credited_at = $2
		WHERE id = $1 AND credit_state = 'NONE' AND matched = TRUE`, lineID, at)
	if err != nil {
		return false, classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return rowsAffected == 1, nil
}

func (t *postgresTx) AppendCreditRecord(ctx context.Context, rec *models.CreditApplicationRecord) error {
	return appendRecord(ctx, t.tx, rec)
}

func (t *postgresTx) AddToBalance(ctx context.Context, passengerID string, amount int64) (int64, error) {
	account, err := t.lockAccount(ctx, passengerID)
	if err != nil {
		return 0, classify(err)
	}
	newBalance := account.Balance + amount
	if err := t.updateAccountBalance(ctx, passengerID, newBalance, account.Version); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (t *postgresTx) lockAccount(ctx context.Context, passengerID string) (*models.PassengerAccount, error) {
	var account models.PassengerAccount
	err := t.tx.QueryRowContext(ctx, `
		SELECT passenger_id, balance, version, updated_at
		FROM passenger_accounts
		WHERE passenger_id = $1
		FOR UPDATE`, passengerID).Scan(&account.PassengerID, &account.Balance, &account.Version, &account.UpdatedAt)

	return &account, err
}

func (t *postgresTx) updateAccountBalance(ctx context.Context, passengerID string, newBalance int64, version int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE passenger_accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE passenger_id = $3 AND version = $4`,
		newBalance, time.Now(), passengerID, version)
	if err != nil {
		return classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s: %w", passengerID, ErrConflict)
	}

	return nil
}

func (t *postgresTx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
