// Package report формирует выгрузки для участников и администраторов.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// SheetName имя листа с выпиской.
const SheetName = "Statement"

// Statement данные выписки по кошельку.
type Statement struct {
	MemberID     uuid.UUID
	Currency     string
	Balance      decimal.Decimal
	Transactions []model.WalletTransaction
	GeneratedAt  time.Time
}

var columns = []string{"Sequence", "Date", "Kind", "Amount", "Balance After", "Reference", "Description"}

// headerRows число строк перед таблицей операций.
const headerRows = 4

// WriteStatement записывает выписку по кошельку в формате XLSX.
func WriteStatement(w io.Writer, st Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(defaultSheet, SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	_ = f.SetCellValue(SheetName, "A1", "Member")
	_ = f.SetCellValue(SheetName, "B1", st.MemberID.String())
	_ = f.SetCellValue(SheetName, "A2", "Balance")
	_ = f.SetCellValue(SheetName, "B2", st.Balance.InexactFloat64())
	_ = f.SetCellValue(SheetName, "C2", st.Currency)
	_ = f.SetCellValue(SheetName, "A3", "Generated")
	_ = f.SetCellValue(SheetName, "B3", st.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellStyle(SheetName, "B2", "B2", money)

	for i, title := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRows)
		if err != nil {
			return err
		}
		_ = f.SetCellValue(SheetName, cell, title)
	}
	last, _ := excelize.CoordinatesToCellName(len(columns), headerRows)
	_ = f.SetCellStyle(SheetName, "A4", last, bold)

	for i, tx := range st.Transactions {
		row := headerRows + 1 + i
		values := []any{
			tx.Sequence,
			tx.CreatedAt.UTC().Format("2006-01-02 15:04"),
			string(tx.Kind),
			tx.Amount.InexactFloat64(),
			tx.BalanceAfter.InexactFloat64(),
			tx.Reference,
			tx.Description,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		from, _ := excelize.CoordinatesToCellName(4, row)
		to, _ := excelize.CoordinatesToCellName(5, row)
		_ = f.SetCellStyle(SheetName, from, to, money)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "B", "B", 38)
	_ = f.SetColWidth(SheetName, "F", "G", 30)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
