package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/transitpay/backoffice/internal/models"
	"github.com/xuri/excelize/v2"
)

// BuildDuplicatesXLSX renders the duplicate audit of a settlement file.
func BuildDuplicatesXLSX(file *models.SettlementFile, records []models.CreditApplicationRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	linesSheet := "duplicates"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	var total int64
	for _, r := range records {
		total += r.Amount
	}

	_ = f.SetCellValue(summarySheet, "A1", "Duplicate Credit Audit")
	_ = f.SetCellValue(summarySheet, "A3", "File")
	_ = f.SetCellValue(summarySheet, "B3", file.FileName)
	_ = f.SetCellValue(summarySheet, "A4", "File ID")
	_ = f.SetCellValue(summarySheet, "B4", file.ID)
	_ = f.SetCellValue(summarySheet, "A5", "Uploaded")
	_ = f.SetCellValue(summarySheet, "B5", file.UploadedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Status")
	_ = f.SetCellValue(summarySheet, "B6", string(file.Status))
	_ = f.SetCellValue(summarySheet, "A7", "Duplicates")
	_ = f.SetCellValue(summarySheet, "B7", len(records))
	_ = f.SetCellValue(summarySheet, "A8", "Excluded Amount")
	_ = f.SetCellValue(summarySheet, "B8", formatMinor(total))

	headers := []string{"Line", "Identity", "Reference", "Amount", "Detected At", "Operator", "Reason"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(linesSheet, cell, h)
	}
	for i, r := range records {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), r.LineID)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), r.Identity)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), r.Reference)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), formatMinor(r.Amount))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), r.AppliedAt.Format(time.RFC3339))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("F%d", row), r.AppliedBy)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("G%d", row), r.Reason)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatMinor renders minor units with two decimals.
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
