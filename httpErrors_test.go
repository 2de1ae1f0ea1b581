package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/factory_backend/formula"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

type sampleInput struct {
	Name string `validate:"required"`
}

func TestStatusForError(t *testing.T) {
	validationErr := utils.ValidateStruct(sampleInput{})
	if validationErr == nil {
		t.Fatalf("expected a validation error for an empty name")
	}
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"validator", validationErr, http.StatusBadRequest},
		{"validation", &models.ValidationError{Field: "quantity", Message: "required"}, http.StatusBadRequest},
		{"legacy code", &models.LegacyCodeError{Code: "x", Reason: "bad"}, http.StatusBadRequest},
		{"parent", &models.InvalidParentError{ItemId: 1, ParentId: 1, Reason: "self"}, http.StatusBadRequest},
		{"collision", &models.AttributeCollisionError{Identifier: "largura"}, http.StatusBadRequest},
		{"template", &models.TemplateRenderError{Template: "{{", Reason: "unclosed"}, http.StatusBadRequest},
		{"formula", &formula.FormulaError{Reason: "empty formula"}, http.StatusBadRequest},
		{"quantity", fmt.Errorf("consume: %w", models.ErrQuantityNotPositive), http.StatusBadRequest},
		{"record not found", utils.ErrorRecordNotFound, http.StatusNotFound},
		{"named not found", utils.NotFound("work order"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load budget: %w", utils.ErrorRecordNotFound), http.StatusNotFound},
		{"not found text only", errors.New("work order not found"), http.StatusInternalServerError},
		{"stock", &models.InsufficientStockError{StockItemId: 1, Available: decimal.NewFromInt(2), Requested: decimal.NewFromInt(3)}, http.StatusConflict},
		{"duplicate", fmt.Errorf("%w name", utils.ErrorDuplicate), http.StatusConflict},
		{"unique index", &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, http.StatusConflict},
		{"choice", &models.DuplicateChoiceError{ConfigurationId: 1, TemplateComponentId: 2}, http.StatusConflict},
		{"immutable", models.ErrImmutableMovement, http.StatusConflict},
		{"margin", &models.InvalidMarginError{Margin: decimal.NewFromInt(100)}, http.StatusUnprocessableEntity},
		{"other", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForError(c.err); got != c.expected {
			t.Fatalf("%s: got status %d, expected %d", c.name, got, c.expected)
		}
	}
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(correlationMiddleware(), actorMiddleware())
	registerBudgetRoutes(r)
	registerStockRoutes(r)
	r.GET("/fail/:kind", func(c *gin.Context) {
		switch c.Param("kind") {
		case "stock":
			respondError(c, &models.InsufficientStockError{StockItemId: 7, Available: decimal.NewFromInt(5), Requested: decimal.NewFromInt(8)})
		case "validation":
			respondError(c, utils.ValidateStruct(sampleInput{}))
		default:
			respondError(c, errors.New("boom"))
		}
	})
	r.GET("/whoami", func(c *gin.Context) {
		actor := models.ActorFromContext(c.Request.Context())
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": actor.Id, "name": actor.Name, "cid": cid})
	})
	return r
}

func TestInvalidIdParam(t *testing.T) {
	r := newTestRouter()
	for _, path := range []string{"/budgets/abc/hierarchy", "/stock-items/0/balance", "/budgets/-3/export"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got status %d, expected 400", path, w.Code)
		}
	}
}

func TestInvalidQueryParam(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stock-items?category_id=mdf", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, expected 400", w.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/stock-items/3/adjust", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, expected 400", w.Code)
	}
}

func TestRespondErrorBodies(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail/stock", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("stock: got status %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["available"] != "5" || body["requested"] != "8" {
		t.Fatalf("unexpected body %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail/validation", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("validation: got status %d", w.Code)
	}
	body = map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["details"]; !ok {
		t.Fatalf("expected validation details, got %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail/other", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("other: got status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
}

func TestActorAndCorrelationHeaders(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-user-id", "12")
	req.Header.Set("x-user-name", "Ana")
	req.Header.Set("x-correlation-id", "cid-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if w.Header().Get("x-correlation-id") != "cid-1" {
		t.Fatalf("correlation id not echoed")
	}
	var body struct {
		Id   int    `json:"id"`
		Name string `json:"name"`
		Cid  string `json:"cid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Id != 12 || body.Name != "Ana" || body.Cid != "cid-1" {
		t.Fatalf("unexpected actor %+v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Header().Get("x-correlation-id") == "" {
		t.Fatalf("expected a generated correlation id")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("got %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}
