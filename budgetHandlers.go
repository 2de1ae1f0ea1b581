package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/models/reports"
	"github.com/mmdatafocus/factory_backend/utils"
	"go.opentelemetry.io/otel/attribute"
)

func registerCatalogRoutes(r gin.IRouter) {
	r.GET("/product-categories", listProductCategories)
	r.POST("/product-categories", createProductCategory)
	r.PUT("/product-categories/:id", updateProductCategory)
	r.DELETE("/product-categories/:id", deleteProductCategory)

	r.GET("/attributes", listAttributes)
	r.POST("/attributes", createAttribute)

	r.GET("/components/:id", getComponent)
	r.POST("/components", createComponent)
	r.PUT("/components/:id", updateComponent)

	r.GET("/product-templates", listProductTemplates)
	r.GET("/product-templates/:id", getProductTemplate)
	r.POST("/product-templates", createProductTemplate)

	r.POST("/product-configurations", createProductConfiguration)
	r.GET("/product-configurations/:id", getProductConfiguration)
	r.POST("/product-configurations/:id/choices", setComponentChoice)
	r.GET("/product-configurations/:id/description", getConfigurationDescription)
}

func registerBudgetRoutes(r gin.IRouter) {
	r.GET("/budgets", listBudgets)
	r.POST("/budgets", createBudget)
	r.GET("/budgets/:id", getBudget)
	r.PUT("/budgets/:id", updateBudget)
	r.POST("/budgets/:id/versions", versionBudget)

	r.POST("/budgets/:id/items/instance", addInstanceItem)
	r.POST("/budgets/:id/items/configuration", addConfigurationItem)
	r.POST("/budgets/:id/items/manual", addManualItem)
	r.GET("/budgets/:id/items/:itemId/description", getItemDescription)

	r.GET("/budgets/:id/hierarchy", getBudgetHierarchy)
	r.GET("/budgets/:id/export", exportBudget)
	r.GET("/budgets/:id/production-sheet", exportProductionSheet)
	r.POST("/budgets/:id/export/upload", uploadBudgetExport)

	r.PUT("/budget-items/:id", updateBudgetItem)
	r.PUT("/budget-items/:id/parent", setBudgetItemParent)
	r.PUT("/budget-items/:id/attributes", updateInstanceAttributes)
	r.DELETE("/budget-items/:id", deleteBudgetItem)

	r.PUT("/instance-components/:id", updateInstanceComponent)
}

// catalog

func listProductCategories(c *gin.Context) {
	result, err := models.GetProductCategories(c.Request.Context(), optionalStringQuery(c, "name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createProductCategory(c *gin.Context) {
	var input models.NewProductCategory
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateProductCategory(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func updateProductCategory(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewProductCategory
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateProductCategory(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func deleteProductCategory(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.DeleteProductCategory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func listAttributes(c *gin.Context) {
	result, err := models.GetAttributes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createAttribute(c *gin.Context) {
	var input models.NewAttribute
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateAttribute(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getComponent(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.GetResource[models.Component](c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createComponent(c *gin.Context) {
	var input models.NewComponent
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateComponent(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func updateComponent(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewComponent
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateComponent(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func listProductTemplates(c *gin.Context) {
	categoryId, ok := optionalIntQuery(c, "category_id")
	if !ok {
		return
	}
	result, err := models.GetProductTemplates(c.Request.Context(), categoryId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getProductTemplate(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.GetProductTemplate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createProductTemplate(c *gin.Context) {
	var input models.NewProductTemplate
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateProductTemplate(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func createProductConfiguration(c *gin.Context) {
	var input models.NewProductConfiguration
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateProductConfiguration(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getProductConfiguration(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.LoadConfiguration(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func setComponentChoice(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewComponentChoice
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.SetComponentChoice(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getConfigurationDescription(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	cfg, err := models.LoadConfiguration(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": reports.RenderConfigurationDescription(cfg)})
}

// budgets

func listBudgets(c *gin.Context) {
	result, err := models.GetBudgets(c.Request.Context(), optionalStringQuery(c, "legacy_code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func createBudget(c *gin.Context) {
	var input models.NewBudget
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.CreateBudget(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getBudget(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	result, err := models.LoadBudget(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func updateBudget(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.UpdateBudgetInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateBudget(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func versionBudget(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "VersionBudget")
	defer span.End()
	span.SetAttributes(attribute.Int("budget.id", id))

	result, err := models.VersionBudget(ctx, id)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func addInstanceItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewInstanceItem
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.AddInstanceItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func addConfigurationItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewConfigurationItem
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.AddConfigurationItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func addManualItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.NewManualItem
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.AddManualItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getItemDescription(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	itemId, ok := parseIdParam(c, "itemId")
	if !ok {
		return
	}
	withCosts, _ := strconv.ParseBool(c.DefaultQuery("with_costs", "false"))
	budget, err := models.LoadBudget(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range budget.Items {
		if budget.Items[i].ID == itemId {
			c.JSON(http.StatusOK, gin.H{
				"item_id":     itemId,
				"description": reports.DetailedItemDescription(&budget.Items[i], withCosts),
			})
			return
		}
	}
	respondError(c, utils.ErrorRecordNotFound)
}

func getBudgetHierarchy(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	budget, err := models.LoadBudget(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports.HierarchyForBudget(budget))
}

func exportBudget(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	data, filename, err := reports.ExportBudgetWorkbook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	writeWorkbook(c, data, filename)
}

func exportProductionSheet(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	data, filename, err := reports.ExportProductionSheet(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	writeWorkbook(c, data, filename)
}

// uploadBudgetExport stores the budget workbook in the GCS_BUCKET bucket.
func uploadBudgetExport(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "UploadBudgetExport")
	defer span.End()
	span.SetAttributes(attribute.Int("budget.id", id))

	data, filename, err := reports.ExportBudgetWorkbook(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	objectName := fmt.Sprintf("budgets/%d/%s_%s", id, time.Now().UTC().Format("20060102T150405"), filename)
	uri, err := utils.UploadToGCS(ctx, objectName, reports.XlsxContentType, data)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uri": uri, "filename": filename})
}

func writeWorkbook(c *gin.Context, data []byte, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, reports.XlsxContentType, data)
}

// budget items

func updateBudgetItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.UpdateBudgetItemInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateBudgetItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type setParentRequest struct {
	ParentId *int `json:"parent_id"`
}

func setBudgetItemParent(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input setParentRequest
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.SetBudgetItemParent(c.Request.Context(), id, input.ParentId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func updateInstanceAttributes(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input []models.NewInstanceAttribute
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateInstanceAttributes(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func deleteBudgetItem(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeleteBudgetItem(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func updateInstanceComponent(c *gin.Context) {
	id, ok := parseIdParam(c, "id")
	if !ok {
		return
	}
	var input models.UpdateInstanceComponentInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.UpdateInstanceComponent(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
