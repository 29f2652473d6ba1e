package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"payvault/internal/config"
	"payvault/internal/models"
	"payvault/internal/store"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes Excel reports from the local cache. It reads whatever is
// cached, dirty rows included, so a report works fully offline.
type Exporter struct {
	store  *store.Store
	path   string
	logger *zerolog.Logger
}

func NewExporter(st *store.Store, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: st, path: cfg.Path, logger: logger}
}

// SalaryMonth writes one month of payments to an .xlsx file and returns its
// path.
func (e *Exporter) SalaryMonth(ctx context.Context, month string) (string, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return "", fmt.Errorf("invalid payment month %q: %w", month, err)
	}

	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	payments, err := e.store.PaymentsByMonth(ctx, month)
	if err != nil {
		return "", fmt.Errorf("error getting payments: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Salary " + month
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Employee", "Month", "Amount", "Currency", "Status", "Processed By", "Paid At", "Pending Sync"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	var total float64
	for i, p := range payments {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), p.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), p.EmployeeName)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), p.PaymentMonth)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), p.Amount)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), p.Currency)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), p.Status)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), p.ProcessedBy)
		if p.PaidAt != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), p.PaidAt.Format("02.01.2006 15:04"))
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), boolToYesNo(p.Dirty))

		if styleID, err := statusStyle(f, p.Status); err == nil {
			cell := fmt.Sprintf("F%d", row)
			_ = f.SetCellStyle(sheetName, cell, cell, styleID)
		}
		total += p.Amount
	}

	totalRow := len(payments) + 3
	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", totalRow), "Total")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", totalRow), total)
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("C%d", totalRow), fmt.Sprintf("D%d", totalRow), totalStyle)

	_ = f.SetColWidth(sheetName, "A", "A", 12)
	_ = f.SetColWidth(sheetName, "B", "B", 25)
	_ = f.SetColWidth(sheetName, "C", "C", 10)
	_ = f.SetColWidth(sheetName, "D", "D", 12)
	_ = f.SetColWidth(sheetName, "E", "E", 10)
	_ = f.SetColWidth(sheetName, "F", "F", 12)
	_ = f.SetColWidth(sheetName, "G", "G", 18)
	_ = f.SetColWidth(sheetName, "H", "H", 20)
	_ = f.SetColWidth(sheetName, "I", "I", 14)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("salary_%s.xlsx", month)
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("payments", len(payments)).Msg("Salary Excel file created")
	return filePath, nil
}

func statusStyle(f *excelize.File, status string) (int, error) {
	var color string
	switch status {
	case models.PaymentProcessed:
		color = "#C6EFCE"
	case models.PaymentFailed:
		color = "#FFC7CE"
	default:
		color = "#FFEB9C"
	}
	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
