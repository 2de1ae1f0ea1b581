package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/factory_backend/formula"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

func statusForError(err error) int {
	var (
		validationErrs validator.ValidationErrors
		validationErr  *models.ValidationError
		legacyErr      *models.LegacyCodeError
		parentErr      *models.InvalidParentError
		collisionErr   *models.AttributeCollisionError
		renderErr      *models.TemplateRenderError
		formulaErr     *formula.FormulaError
		missingErr     *models.MissingComponentChoiceError
		stockErr       *models.InsufficientStockError
		choiceErr      *models.DuplicateChoiceError
		marginErr      *models.InvalidMarginError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErrs),
		errors.As(err, &validationErr),
		errors.As(err, &legacyErr),
		errors.As(err, &parentErr),
		errors.As(err, &collisionErr),
		errors.As(err, &renderErr),
		errors.As(err, &formulaErr),
		errors.As(err, &missingErr),
		errors.Is(err, models.ErrQuantityNotPositive):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr),
		errors.As(err, &choiceErr),
		errors.Is(err, utils.ErrorDuplicate),
		utils.IsDuplicateKeyErr(err),
		errors.Is(err, models.ErrImmutableMovement):
		return http.StatusConflict
	case errors.As(err, &marginErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError writes err with its status. Server errors are recorded on the
// gin context for customErrorLogger and answered with a generic message.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		body["error"] = "validation failed"
		body["details"] = utils.ProcessValidationErrors(err)
	}
	var stockErr *models.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["available"] = stockErr.Available
		body["requested"] = stockErr.Requested
	}
	c.AbortWithStatusJSON(status, body)
}

func parseIdParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// optionalIntQuery returns nil when the query parameter is absent.
func optionalIntQuery(c *gin.Context, name string) (*int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &v, true
}

func optionalStringQuery(c *gin.Context, name string) *string {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	return &raw
}

// optionalDateQuery accepts 2006-01-02 or RFC3339.
func optionalDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &t, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
