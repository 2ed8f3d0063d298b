package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/xuri/excelize/v2"
)

type column int

const (
	colIdentity column = iota
	colPayer
	colAmount
	colDate
	colReference
)

var headerAliases = map[string]column{
	"identity":       colIdentity,
	"cedula":         colIdentity,
	"documento":      colIdentity,
	"identificacion": colIdentity,
	"payer":          colPayer,
	"payer_name":     colPayer,
	"name":           colPayer,
	"nombre":         colPayer,
	"pagador":        colPayer,
	"amount":         colAmount,
	"valor":          colAmount,
	"monto":          colAmount,
	"date":           colDate,
	"movement_date":  colDate,
	"fecha":          colDate,
	"reference":      colReference,
	"referencia":     colReference,
	"ref":            colReference,
}

var requiredColumns = []struct {
	col  column
	name string
}{
	{colIdentity, "identity"},
	{colAmount, "amount"},
	{colDate, "date"},
	{colReference, "reference"},
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	time.RFC3339,
}

// IngestResult is a parsed settlement file ready to be persisted.
type IngestResult struct {
	File        models.SettlementFile   `json:"file"`
	Lines       []models.SettlementLine `json:"-"`
	ParseErrors []models.ParseError     `json:"parseErrors"`
}

// SettlementIngestor turns tabular settlement exports into lines. Malformed
// rows are reported and skipped; only an unreadable file or a missing
// required column fails the whole upload.
type SettlementIngestor struct {
	now func() time.Time
}

func NewSettlementIngestor() *SettlementIngestor {
	return &SettlementIngestor{now: time.Now}
}

func (i *SettlementIngestor) Parse(fileName, uploadedBy string, r io.Reader) (*IngestResult, error) {
	rows, rowErrs, err := readRows(fileName, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrParse)
	}

	cols, err := mapHeader(rows[0].cells)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	now := i.now()
	result := &IngestResult{
		File: models.SettlementFile{
			ID:         uuid.NewString(),
			UploadedAt: now,
			UploadedBy: uploadedBy,
			FileName:   fileName,
			UpdatedAt:  now,
		},
		ParseErrors: rowErrs,
	}

	for _, row := range rows[1:] {
		if blank(row.cells) {
			continue
		}
		line, reason := parseRow(row.cells, cols)
		if reason != "" {
			result.ParseErrors = append(result.ParseErrors, models.ParseError{Row: row.number, Reason: reason})
			continue
		}
		line.ID = uuid.NewString()
		line.FileID = result.File.ID
		line.LineNumber = row.number
		line.CreditState = models.CreditStateNone
		result.Lines = append(result.Lines, line)
	}
	sort.SliceStable(result.ParseErrors, func(a, b int) bool {
		return result.ParseErrors[a].Row < result.ParseErrors[b].Row
	})
	result.File.ParseErrors = len(result.ParseErrors)
	return result, nil
}

type sourceRow struct {
	number int
	cells  []string
}

// readRows returns the rows with their 1-based position in the source. CSV
// records the reader cannot tokenize are reported as row errors.
func readRows(fileName string, r io.Reader) ([]sourceRow, []models.ParseError, error) {
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.New("workbook has no sheets")
		}
		cells, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, nil, err
		}
		rows := make([]sourceRow, 0, len(cells))
		for idx, c := range cells {
			rows = append(rows, sourceRow{number: idx + 1, cells: c})
		}
		return rows, nil, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []sourceRow
	var rowErrs []models.ParseError
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if len(rows) == 0 {
				return nil, nil, err
			}
			rowErrs = append(rowErrs, models.ParseError{Row: perr.StartLine, Reason: perr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, sourceRow{number: line, cells: record})
	}
	return rows, rowErrs, nil
}

// sniffDelimiter picks ';' when the header uses it, as spreadsheet exports in
// decimal-comma locales do.
func sniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", " ", "_", "-", "_").Replace(h)
	return h
}

func mapHeader(header []string) (map[column]int, error) {
	cols := make(map[column]int)
	for idx, h := range header {
		if c, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, dup := cols[c]; !dup {
				cols[c] = idx
			}
		}
	}
	var missing []string
	for _, rc := range requiredColumns {
		if _, ok := cols[rc.col]; !ok {
			missing = append(missing, rc.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, cols map[column]int, c column) string {
	idx, ok := cols[c]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseRow(row []string, cols map[column]int) (models.SettlementLine, string) {
	var line models.SettlementLine

	line.RawIdentity = cell(row, cols, colIdentity)
	if line.RawIdentity == "" {
		return line, "identity is empty"
	}
	line.PayerName = cell(row, cols, colPayer)

	amount, err := ParseAmount(cell(row, cols, colAmount))
	if err != nil {
		return line, err.Error()
	}
	line.Amount = amount

	date, err := parseDate(cell(row, cols, colDate))
	if err != nil {
		return line, err.Error()
	}
	line.MovementDate = date

	line.Reference = cell(row, cols, colReference)
	if line.Reference == "" {
		return line, "reference is empty"
	}
	return line, ""
}

// ParseAmount reads an amount in minor units. Integers are taken as minor
// units; a decimal point with one or two fraction digits is scaled.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, errors.New("amount is empty")
	}
	if strings.ContainsAny(s, ", ") {
		return 0, fmt.Errorf("amount %q has grouping separators", s)
	}

	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("amount %q must be positive", s)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("amount %q must have one or two decimals", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || strings.HasPrefix(whole, "+") {
		return 0, fmt.Errorf("amount %q is not a number", s)
	}

	amount := units
	if hasFrac {
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 || strings.HasPrefix(frac, "-") {
			return 0, fmt.Errorf("amount %q is not a number", s)
		}
		if units > (math.MaxInt64-99)/100 {
			return 0, fmt.Errorf("amount %q is out of range", s)
		}
		amount = units*100 + cents
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", s)
	}
	return amount, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date is empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not recognised", s)
}
