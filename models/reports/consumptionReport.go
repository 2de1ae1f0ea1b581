package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

type MaterialConsumptionRow struct {
	StockItemId   int             `json:"stock_item_id"`
	InternalCode  string          `json:"internal_code"`
	ItemName      string          `json:"item_name"`
	Unit          string          `json:"unit"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

func (r MaterialConsumptionRow) GetCellValues() []interface{} {
	return []interface{}{
		r.InternalCode,
		r.ItemName,
		r.Unit,
		r.TotalQuantity.InexactFloat64(),
		r.TotalCost.InexactFloat64(),
	}
}

type MaterialConsumptionReport struct {
	WorkOrderId int                       `json:"work_order_id"`
	Reference   string                    `json:"reference"`
	Rows        []*MaterialConsumptionRow `json:"rows"`
	TotalCost   decimal.Decimal           `json:"total_cost"`
}

type consumptionCost struct {
	StockItemId int
	TotalCost   decimal.Decimal
}

// GetMaterialConsumptionReport sums what a work order consumed per stock item.
// Cost is the FIFO cost recorded on the SAIDA movements.
func GetMaterialConsumptionReport(ctx context.Context, workOrderId int, fromDate *time.Time, toDate *time.Time) (*MaterialConsumptionReport, error) {
	order, err := utils.FetchModel[models.WorkOrder](ctx, workOrderId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NotFound("work order")
		}
		return nil, err
	}

	quantitySqlT := `
SELECT
    ci.stock_item_id,
    si.internal_code,
    si.name AS item_name,
    si.unit,
    SUM(ci.quantity) AS total_quantity
FROM
    consumed_items ci
    JOIN stock_items si ON si.id = ci.stock_item_id
WHERE
    ci.work_order_id = @workOrderId
    {{- if .fromDate }} AND ci.consumed_on >= @fromDate {{- end }}
    {{- if .toDate }} AND ci.consumed_on <= @toDate {{- end }}
GROUP BY ci.stock_item_id, si.internal_code, si.name, si.unit
ORDER BY si.internal_code;
`
	costSqlT := `
SELECT
    m.stock_item_id,
    SUM(-m.quantity * m.unit_cost) AS total_cost
FROM
    stock_movements m
    JOIN consumed_items ci ON ci.id = m.consumed_item_id
WHERE
    ci.work_order_id = @workOrderId
    AND m.kind = @kind
    {{- if .fromDate }} AND ci.consumed_on >= @fromDate {{- end }}
    {{- if .toDate }} AND ci.consumed_on <= @toDate {{- end }}
GROUP BY m.stock_item_id;
`
	templateData := map[string]interface{}{
		"fromDate": fromDate != nil,
		"toDate":   toDate != nil,
	}
	params := map[string]interface{}{
		"workOrderId": workOrderId,
		"fromDate":    fromDate,
		"toDate":      toDate,
		"kind":        models.StockMovementOutput,
	}

	quantitySql, err := utils.ExecTemplate(quantitySqlT, templateData)
	if err != nil {
		return nil, err
	}
	costSql, err := utils.ExecTemplate(costSqlT, templateData)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var rows []*MaterialConsumptionRow
	if err := db.WithContext(ctx).Raw(quantitySql, params).Scan(&rows).Error; err != nil {
		return nil, err
	}
	var costs []consumptionCost
	if err := db.WithContext(ctx).Raw(costSql, params).Scan(&costs).Error; err != nil {
		return nil, err
	}

	report := &MaterialConsumptionReport{WorkOrderId: order.ID, Reference: order.Reference}
	report.Rows, report.TotalCost = mergeConsumptionCosts(rows, costs)
	return report, nil
}

func mergeConsumptionCosts(rows []*MaterialConsumptionRow, costs []consumptionCost) ([]*MaterialConsumptionRow, decimal.Decimal) {
	byItem := make(map[int]decimal.Decimal, len(costs))
	for _, c := range costs {
		byItem[c.StockItemId] = c.TotalCost
	}
	total := decimal.Zero
	for _, r := range rows {
		r.TotalCost = byItem[r.StockItemId]
		total = total.Add(r.TotalCost)
	}
	return rows, total
}

type MachineUtilisationRow struct {
	WorkstationId   int             `json:"workstation_id"`
	WorkstationName string          `json:"workstation_name"`
	Sessions        int             `json:"sessions"`
	Hours           decimal.Decimal `json:"hours"`
	HourlyCost      decimal.Decimal `json:"hourly_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

func (r MachineUtilisationRow) GetCellValues() []interface{} {
	return []interface{}{
		r.WorkstationName,
		r.Sessions,
		r.Hours.InexactFloat64(),
		r.HourlyCost.InexactFloat64(),
		r.TotalCost.InexactFloat64(),
	}
}

// GetMachineUtilisationReport totals closed work sessions started in the
// range, optionally for one work order.
func GetMachineUtilisationReport(ctx context.Context, fromDate time.Time, toDate time.Time, workOrderId *int) ([]*MachineUtilisationRow, error) {
	if toDate.Before(fromDate) {
		return nil, errors.New("to date is before from date")
	}
	dbCtx := config.GetDB().WithContext(ctx).Preload("Workstation").
		Where("ended_at IS NOT NULL AND started_at >= ? AND started_at < ?", fromDate, toDate)
	if workOrderId != nil {
		dbCtx = dbCtx.Where("work_order_id = ?", *workOrderId)
	}
	var sessions []models.WorkSession
	if err := dbCtx.Order("started_at").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return summariseSessions(sessions), nil
}

func summariseSessions(sessions []models.WorkSession) []*MachineUtilisationRow {
	index := map[int]*MachineUtilisationRow{}
	var rows []*MachineUtilisationRow
	for _, s := range sessions {
		if s.EndedAt == nil {
			continue
		}
		row, ok := index[s.WorkstationId]
		if !ok {
			row = &MachineUtilisationRow{WorkstationId: s.WorkstationId, Hours: decimal.Zero, HourlyCost: decimal.Zero}
			if s.Workstation != nil {
				row.WorkstationName = s.Workstation.Name
				row.HourlyCost = s.Workstation.HourlyCost
			} else {
				row.WorkstationName = fmt.Sprintf("workstation %d", s.WorkstationId)
			}
			index[s.WorkstationId] = row
			rows = append(rows, row)
		}
		row.Sessions++
		row.Hours = row.Hours.Add(s.Hours())
	}
	for _, row := range rows {
		row.TotalCost = row.Hours.Mul(row.HourlyCost).Round(2)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].WorkstationName < rows[j].WorkstationName })
	return rows
}

func MaterialConsumptionWorkbook(report *MaterialConsumptionReport) ([]byte, error) {
	w, err := newWorkbook("Consumption")
	if err != nil {
		return nil, err
	}
	if err := w.set("A", 1, "Material consumption "+report.Reference); err != nil {
		return nil, err
	}
	w.row = 3
	if err := w.headings("Code", "Item", "Unit", "Quantity", "Cost"); err != nil {
		return nil, err
	}
	rows := make([]ExcelExporter, len(report.Rows))
	for i, r := range report.Rows {
		rows[i] = r
	}
	if err := w.writeRows(rows, 0); err != nil {
		return nil, err
	}
	if err := w.writeRow([]interface{}{nil, nil, nil, "Total", report.TotalCost.InexactFloat64()}, w.bold); err != nil {
		return nil, err
	}
	return w.bytes()
}

func MachineUtilisationWorkbook(rows []*MachineUtilisationRow, fromDate time.Time, toDate time.Time) ([]byte, error) {
	w, err := newWorkbook("Utilisation")
	if err != nil {
		return nil, err
	}
	title := fmt.Sprintf("Machine utilisation %s to %s", fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"))
	if err := w.set("A", 1, title); err != nil {
		return nil, err
	}
	w.row = 3
	if err := w.headings("Workstation", "Sessions", "Hours", "Hourly cost", "Cost"); err != nil {
		return nil, err
	}
	exporters := make([]ExcelExporter, len(rows))
	total := decimal.Zero
	for i, r := range rows {
		exporters[i] = r
		total = total.Add(r.TotalCost)
	}
	if err := w.writeRows(exporters, 0); err != nil {
		return nil, err
	}
	if err := w.writeRow([]interface{}{"Total", nil, nil, nil, total.InexactFloat64()}, w.bold); err != nil {
		return nil, err
	}
	return w.bytes()
}
