package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/xuri/excelize/v2"
)

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExcelExporter interface {
	GetCellValues() []interface{}
}

func (r ReportLine) GetCellValues() []interface{} {
	return []interface{}{
		r.Code,
		r.Description,
		r.Unit,
		r.Quantity,
		r.UnitPrice.InexactFloat64(),
		r.Total.InexactFloat64(),
	}
}

type workbook struct {
	f      *excelize.File
	sheet  string
	row    int
	bold   int
	wrap   int
	header int
}

func newWorkbook(sheet string) (*workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9D9D9"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	return &workbook{f: f, sheet: sheet, row: 1, bold: bold, wrap: wrap, header: header}, nil
}

func (w *workbook) set(col string, row int, value interface{}) error {
	return w.f.SetCellValue(w.sheet, fmt.Sprintf("%s%d", col, row), value)
}

// writeRow writes values from column A on the current row and advances.
func (w *workbook) writeRow(values []interface{}, style int) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		return err
	}
	if style != 0 && len(values) > 0 {
		last, err := excelize.CoordinatesToCellName(len(values), w.row)
		if err != nil {
			return err
		}
		if err := w.f.SetCellStyle(w.sheet, cell, last, style); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

func (w *workbook) writeRows(rows []ExcelExporter, style int) error {
	for _, r := range rows {
		if err := w.writeRow(r.GetCellValues(), style); err != nil {
			return err
		}
	}
	return nil
}

func (w *workbook) headings(headings ...string) error {
	values := make([]interface{}, len(headings))
	for i, h := range headings {
		values[i] = h
	}
	return w.writeRow(values, w.header)
}

func (w *workbook) bytes() ([]byte, error) {
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// budget header: client, work and legacy code on B3..B5
func (w *workbook) budgetHeader(budget *models.Budget, title string) error {
	if err := w.set("A", 1, title); err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, "A1", "A1", w.bold); err != nil {
		return err
	}
	header := []struct {
		label string
		value string
	}{
		{"Client", utils.DerefString(budget.ClientName)},
		{"Work", fmt.Sprintf("Work: %s", budget.LegacyCode)},
		{"Code", fmt.Sprintf("%s (version %d)", budget.LegacyCode, budget.Version)},
	}
	for i, h := range header {
		if err := w.set("A", 3+i, h.label); err != nil {
			return err
		}
		if err := w.set("B", 3+i, h.value); err != nil {
			return err
		}
	}
	w.row = 8
	return nil
}

// BudgetWorkbook lays the hierarchy out as code, description, unit,
// quantity, unit price and total, followed by the grand total.
func BudgetWorkbook(budget *models.Budget) ([]byte, error) {
	h := HierarchyForBudget(budget)

	w, err := newWorkbook("Budget")
	if err != nil {
		return nil, err
	}
	if err := w.budgetHeader(budget, "Budget "+budget.LegacyCode); err != nil {
		return nil, err
	}
	if err := w.headings("Code", "Description", "Unit", "Quantity", "Unit price", "Total"); err != nil {
		return nil, err
	}

	for _, cat := range h.Categories {
		if err := w.writeRow([]interface{}{cat.Code, cat.Name}, w.bold); err != nil {
			return nil, err
		}
		for _, n := range cat.Configurations {
			if n.Line != nil {
				if err := w.writeRow(n.Line.GetCellValues(), w.wrap); err != nil {
					return nil, err
				}
			} else if err := w.writeRow([]interface{}{n.Code, n.Description}, w.wrap); err != nil {
				return nil, err
			}
			rows := make([]ExcelExporter, len(n.Instances))
			for i, line := range n.Instances {
				rows[i] = line
			}
			if err := w.writeRows(rows, w.wrap); err != nil {
				return nil, err
			}
		}
	}
	manual := make([]ExcelExporter, len(h.ManualLines))
	for i, line := range h.ManualLines {
		manual[i] = line
	}
	if err := w.writeRows(manual, w.wrap); err != nil {
		return nil, err
	}

	w.row++
	if err := w.writeRow([]interface{}{nil, nil, nil, nil, "Total", h.GrandTotal.InexactFloat64()}, w.bold); err != nil {
		return nil, err
	}
	if err := w.f.SetColWidth(w.sheet, "B", "B", 70); err != nil {
		return nil, err
	}
	return w.bytes()
}

// ProductionSheetWorkbook lists, per configuration, the components summed over
// its instances and then the instance lines without prices.
func ProductionSheetWorkbook(budget *models.Budget) ([]byte, error) {
	h := HierarchyForBudget(budget)

	w, err := newWorkbook("Production")
	if err != nil {
		return nil, err
	}
	if err := w.budgetHeader(budget, "Production sheet "+budget.LegacyCode); err != nil {
		return nil, err
	}
	if err := w.headings("Code", "Description", "Unit", "Quantity"); err != nil {
		return nil, err
	}

	for _, cat := range h.Categories {
		if err := w.writeRow([]interface{}{cat.Code, cat.Name}, w.bold); err != nil {
			return nil, err
		}
		for _, n := range cat.Configurations {
			if err := w.writeRow([]interface{}{n.Code, ProductionComponentsText(AggregateComponents(n))}, w.wrap); err != nil {
				return nil, err
			}
			for _, line := range n.Instances {
				values := []interface{}{line.Code, DetailedItemDescription(line.Item, false), line.Unit, line.Quantity}
				if err := w.writeRow(values, w.wrap); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := w.f.SetColWidth(w.sheet, "B", "B", 90); err != nil {
		return nil, err
	}
	return w.bytes()
}

// ProductionComponentsText renders aggregated components as
// "- name: 12.00 unit - description" lines.
func ProductionComponentsText(components []*AggregatedComponent) string {
	var b strings.Builder
	b.WriteString("Components:\n")
	for _, c := range components {
		unit := c.Unit
		if c.Description != "" {
			unit += " - " + c.Description
		}
		b.WriteString(fmt.Sprintf("- %s: %s %s\n", c.Name, c.Quantity.StringFixed(2), unit))
	}
	return strings.TrimSpace(b.String())
}

// ExportBudgetWorkbook loads the budget and returns the workbook with a file name.
func ExportBudgetWorkbook(ctx context.Context, budgetId int) ([]byte, string, error) {
	budget, err := models.LoadBudget(ctx, budgetId)
	if err != nil {
		return nil, "", err
	}
	data, err := BudgetWorkbook(budget)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("budget_%s.xlsx", budget.LegacyCode), nil
}

func ExportProductionSheet(ctx context.Context, budgetId int) ([]byte, string, error) {
	budget, err := models.LoadBudget(ctx, budgetId)
	if err != nil {
		return nil, "", err
	}
	data, err := ProductionSheetWorkbook(budget)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("production_%s.xlsx", budget.LegacyCode), nil
}
