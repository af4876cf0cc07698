package dashboard

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billing "civicsync/internal/billing/domain"
	registry "civicsync/internal/registry/domain"
)

type duesRow struct {
	Label    string
	Service  string
	Consumer string
	Status   string
	Amount   float64
	Verified bool
}

func buildDuesRows(accounts []registry.Account, billData map[string]billing.Snapshot) ([]duesRow, float64) {
	rows := make([]duesRow, 0, len(accounts))
	total := decimal.Zero
	for _, account := range accounts {
		row := duesRow{
			Label:    account.Label,
			Service:  account.ServiceType.Meta().Name,
			Consumer: account.ConsumerID,
			Status:   billing.StatusUnknown,
		}
		if snap, ok := billData[account.ID]; ok && snap.Authoritative() {
			row.Status = snap.Status
			row.Amount = snap.AmountDue
			row.Verified = true
			total = total.Add(decimal.NewFromFloat(snap.AmountDue))
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Service != rows[j].Service {
			return rows[i].Service < rows[j].Service
		}
		return rows[i].Consumer < rows[j].Consumer
	})
	grand, _ := total.Round(2).Float64()
	return rows, grand
}

// BuildDuesPDF renders the current dues summary as a PDF document.
// Unverified accounts show an explicit dash, never a zero.
func BuildDuesPDF(accounts []registry.Account, billData map[string]billing.Snapshot) ([]byte, error) {
	rows, total := buildDuesRows(accounts, billData)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, "Utility Dues Summary")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 6, "Generated "+time.Now().UTC().Format("2006-01-02 15:04 MST"))
	pdf.Ln(10)

	widths := []float64{40, 30, 45, 30, 30}
	headers := []string{"Label", "Service", "Consumer", "Status", "Amount Due"}
	pdf.SetFont("Helvetica", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range rows {
		amount := "-"
		if row.Verified {
			amount = fmt.Sprintf("%.2f", row.Amount)
		}
		cells := []string{row.Label, row.Service, row.Consumer, row.Status, amount}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 7, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 7, "Total due (verified accounts)", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[4], 7, fmt.Sprintf("%.2f", total), "1", 0, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("dashboard: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildDuesXLSX renders the current dues summary as a spreadsheet.
func BuildDuesXLSX(accounts []registry.Account, billData map[string]billing.Snapshot) ([]byte, error) {
	rows, total := buildDuesRows(accounts, billData)

	f := excelize.NewFile()
	const sheet = "Dues"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Label", "Service", "Consumer", "Status", "Amount Due"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for rowIdx, row := range rows {
		values := []any{row.Label, row.Service, row.Consumer, row.Status}
		for colIdx, value := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
		amountCell, _ := excelize.CoordinatesToCellName(5, rowIdx+2)
		if row.Verified {
			_ = f.SetCellValue(sheet, amountCell, row.Amount)
		} else {
			_ = f.SetCellValue(sheet, amountCell, "-")
		}
	}
	totalRow := len(rows) + 2
	labelCell, _ := excelize.CoordinatesToCellName(4, totalRow)
	valueCell, _ := excelize.CoordinatesToCellName(5, totalRow)
	_ = f.SetCellValue(sheet, labelCell, "Total due")
	_ = f.SetCellValue(sheet, valueCell, total)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("dashboard: render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
