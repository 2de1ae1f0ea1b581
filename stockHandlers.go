package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/models/reports"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

func registerStockRoutes(r gin.IRouter) {
	r.POST("/stock-categories", createStockCategory)
	r.PUT("/stock-categories/:id", updateStockCategory)
	r.GET("/stock-categories/:id/path", getStockCategoryPath)

	r.GET("/stock-items", listStockItems)
	r.POST("/stock-items", createStockItem)
	r.GET("/stock-items/:id", getStockItem)
	r.GET("/stock-items/:id/balance", getStockBalance)
	r.GET("/stock-items/:id/movements", listStockMovements)
	r.GET("/stock-items/:id/reconcile", reconcileStockItem)
	r.POST("/stock-items/:id/consume", consumeStock)
	r.POST("/stock-items/:id/adjust", adjustStock)

	r.POST("/stock-receipts", receiveStock)
}

func registerProductionRoutes(r gin.IRouter) {
	r.POST("/work-orders", createWorkOrder)
	r.GET("/work-orders/:id", getWorkOrder)
	r.PUT("/work-orders/:id/status", updateWorkOrderStatus)
	r.POST("/work-orders/:id/consumption", recordConsumption)
	r.GET("/work-orders/:id/consumption-report", getConsumptionReport)

	r.POST("/workstations", createWorkstation)
	r.POST("/operators", createOperator)
	r.POST("/work-sessions", startWorkSession)
	r.PUT("/work-sessions/:id/close", closeWorkSession)
	r.GET("/reports/machine-utilisation", getMachineUtilisationReport)
}

// stock

func createStockCategory(c *gin.Context) {
	var input models.NewStockCategory
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateStockCategory(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func updateStockCategory(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewStockCategory
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateStockCategory(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getStockCategoryPath(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	path, err := models.StockCategoryPath(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "path": path})
}

func listStockItems(c *gin.Context) {
	categoryId, ok := optionalIntQuery(c, "category_id")
	if !ok {
		return
	}
	result, err := models.GetStockItems(c.Request.Context(), categoryId, optionalStringQuery(c, "name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createStockItem(c *gin.Context) {
	var input models.NewStockItem
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateStockItem(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getStockItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.GetResource[models.StockItem](c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getStockBalance(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.StockBalance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func listStockMovements(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.GetStockMovements(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func reconcileStockItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.ReconcileStockItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reconciliation": result,
		"consistent":     result.Consistent(),
	})
}

func receiveStock(c *gin.Context) {
	var input models.NewStockReceipt
	if !bindJSON(c, &input) {
		return
	}
	ctx := c.Request.Context()
	result, err := models.ReceiveStock(ctx, &input, models.ActorFromContext(ctx))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type consumeStockRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// consumeStock takes stock out FIFO without a work order.
func consumeStock(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input consumeStockRequest
	if !bindJSON(c, &input) {
		return
	}
	ctx := c.Request.Context()
	result, err := models.ConsumeStock(ctx, nil, id, input.Quantity, models.ActorFromContext(ctx), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type adjustStockRequest struct {
	PhysicalQuantity decimal.Decimal `json:"physical_quantity"`
	Justification    string          `json:"justification"`
}

func adjustStock(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input adjustStockRequest
	if !bindJSON(c, &input) {
		return
	}
	ctx := c.Request.Context()
	result, err := models.AdjustStock(ctx, id, input.PhysicalQuantity, models.ActorFromContext(ctx), input.Justification)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// production

func createWorkOrder(c *gin.Context) {
	var input models.NewWorkOrder
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateWorkOrder(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getWorkOrder(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := utils.FetchModel[models.WorkOrder](c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type workOrderStatusRequest struct {
	Status models.WorkOrderStatus `json:"status"`
}

func updateWorkOrderStatus(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input workOrderStatusRequest
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateWorkOrderStatus(c.Request.Context(), id, input.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func recordConsumption(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewConsumedItem
	if !bindJSON(c, &input) {
		return
	}
	input.WorkOrderId = id
	result, err := models.RecordConsumption(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// getConsumptionReport answers JSON, or a workbook with ?format=xlsx.
func getConsumptionReport(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	from, ok := optionalDateQuery(c, "from")
	if !ok {
		return
	}
	to, ok := optionalDateQuery(c, "to")
	if !ok {
		return
	}
	report, err := reports.GetMaterialConsumptionReport(c.Request.Context(), id, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if !strings.EqualFold(c.Query("format"), "xlsx") {
		c.JSON(http.StatusOK, report)
		return
	}
	data, err := reports.MaterialConsumptionWorkbook(report)
	if err != nil {
		respondError(c, err)
		return
	}
	writeWorkbook(c, data, fmt.Sprintf("consumption_%d.xlsx", id))
}

func createWorkstation(c *gin.Context) {
	var input models.NewWorkstation
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateWorkstation(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type newOperatorRequest struct {
	Name string `json:"name"`
}

func createOperator(c *gin.Context) {
	var input newOperatorRequest
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateOperator(c.Request.Context(), input.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func startWorkSession(c *gin.Context) {
	var input models.NewWorkSession
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.StartWorkSession(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type closeWorkSessionRequest struct {
	EndedAt *time.Time `json:"ended_at"`
}

func closeWorkSession(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input closeWorkSessionRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &input) {
		return
	}
	endedAt := time.Now()
	if input.EndedAt != nil {
		endedAt = *input.EndedAt
	}
	result, err := models.CloseWorkSession(c.Request.Context(), id, endedAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getMachineUtilisationReport needs from and to; ?format=xlsx returns a workbook.
func getMachineUtilisationReport(c *gin.Context) {
	from, ok := optionalDateQuery(c, "from")
	if !ok {
		return
	}
	to, ok := optionalDateQuery(c, "to")
	if !ok {
		return
	}
	if from == nil || to == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	workOrderId, ok := optionalIntQuery(c, "work_order_id")
	if !ok {
		return
	}
	rows, err := reports.GetMachineUtilisationReport(c.Request.Context(), *from, *to, workOrderId)
	if err != nil {
		respondError(c, err)
		return
	}
	if !strings.EqualFold(c.Query("format"), "xlsx") {
		c.JSON(http.StatusOK, rows)
		return
	}
	data, err := reports.MachineUtilisationWorkbook(rows, *from, *to)
	if err != nil {
		respondError(c, err)
		return
	}
	writeWorkbook(c, data, fmt.Sprintf("machine_utilisation_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102")))
}
