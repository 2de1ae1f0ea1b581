package reports

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

var (
	alturaAttr  = &models.Attribute{ID: 1, Name: "Altura", Type: models.AttributeTypeNumeric}
	larguraAttr = &models.Attribute{ID: 2, Name: "Largura", Type: models.AttributeTypeNumeric}
	corAttr     = &models.Attribute{ID: 3, Name: "Cor", Type: models.AttributeTypeText}

	alturaRule  = &models.TemplateAttribute{ID: 11, AttributeId: 1, Attribute: alturaAttr}
	larguraRule = &models.TemplateAttribute{ID: 12, AttributeId: 2, Attribute: larguraAttr}
	corRule     = &models.TemplateAttribute{ID: 13, AttributeId: 3, Attribute: corAttr}

	genericLock = &models.Component{ID: 50, Name: "Fechadura", Unit: "un"}
	yaleLock    = &models.Component{ID: 51, Name: "Fechadura Yale", Unit: "un", UnitCost: dec("35")}
	board       = &models.Component{ID: 52, Name: "Painel MDF", Unit: "m2", UnitCost: dec("20")}
)

func doorTemplate(category *models.ProductCategory, instanceDescription string) *models.ProductTemplate {
	return &models.ProductTemplate{
		ID:                          10,
		CategoryId:                  category.ID,
		Category:                    category,
		Name:                        "Porta",
		Unit:                        "un",
		InstanceDescriptionTemplate: instanceDescription,
		Components: []models.TemplateComponent{
			{ID: 1000, TemplateId: 10, ComponentId: 50, Component: genericLock, FixedQuantity: decPtr("1")},
			{ID: 1001, TemplateId: 10, ComponentId: 52, Component: board, Formula: "altura * largura / 1000000"},
		},
	}
}

func doorConfiguration(id int, name string, template *models.ProductTemplate) *models.ProductConfiguration {
	return &models.ProductConfiguration{
		ID:                  id,
		TemplateId:          template.ID,
		Template:            template,
		Name:                name,
		DescriptionTemplate: "Porta com {{ componentes.fechadura }}",
		Choices: []models.ComponentChoice{
			{ID: id*10 + 1, ConfigurationId: id, TemplateComponentId: 1000, TemplateComponent: &template.Components[0], ComponentId: 51, Component: yaleLock},
		},
	}
}

func doorInstance(id int, cfg *models.ProductConfiguration, altura string, cor string) *models.ProductInstance {
	return &models.ProductInstance{
		ID:              id,
		ConfigurationId: cfg.ID,
		Configuration:   cfg,
		Quantity:        1,
		Attributes: []models.InstanceAttribute{
			{TemplateAttributeId: 11, TemplateAttribute: alturaRule, NumValue: decPtr(altura)},
			{TemplateAttributeId: 12, TemplateAttribute: larguraRule, NumValue: decPtr("850.0000")},
			{TemplateAttributeId: 13, TemplateAttribute: corRule, TextValue: strPtr(cor)},
		},
		Components: []models.InstanceComponent{
			{InstanceId: id, ComponentId: 51, Component: yaleLock, Quantity: dec("1"), UnitCost: dec("35"), DetailedDescription: strPtr("Fechadura Yale")},
			{InstanceId: id, ComponentId: 52, Component: board, Quantity: dec("1.7"), UnitCost: dec("20"), DetailedDescription: strPtr("Painel MDF")},
		},
	}
}

func instanceItem(id int, instance *models.ProductInstance, qty int, price string) *models.BudgetItem {
	item := &models.BudgetItem{
		ID:         id,
		BudgetId:   1,
		InstanceId: &instance.ID,
		Instance:   instance,
		Quantity:   qty,
		UnitPrice:  dec(price),
	}
	item.Total = item.LineTotal()
	return item
}

func TestRenderTemplate(t *testing.T) {
	vars := map[string]any{
		"cor":         "branco",
		"altura":      dec("2000.0000"),
		"espessura":   dec("1.5"),
		"componentes": map[string]any{"fechadura": "Yale"},
	}
	cases := []struct {
		in       string
		expected string
	}{
		{"Porta {{ cor }}", "Porta branco"},
		{"{{altura}}mm", "2000mm"},
		{"{{ espessura }}", "1.5"},
		{"com {{ componentes.fechadura }}", "com Yale"},
		{"{{ desconhecido }}!", "!"},
		{"{{ componentes.nada }}", ""},
		{"{{ cor.nome }}", ""},
		{"sem variaveis", "sem variaveis"},
	}
	for _, c := range cases {
		got, err := renderTemplate(c.in, vars)
		if err != nil {
			t.Fatalf("renderTemplate(%q) unexpected error: %v", c.in, err)
		}
		if got != c.expected {
			t.Fatalf("renderTemplate(%q) = %q, expected %q", c.in, got, c.expected)
		}
	}

	for _, in := range []string{"{{ cor", "{{ }}", "{{ a b }}", "{% if cor %}x{% endif %}", "fim }}", "{{ a..b }}", "{{ cor|upper }}"} {
		_, err := renderTemplate(in, vars)
		var re *models.TemplateRenderError
		if !errors.As(err, &re) {
			t.Fatalf("renderTemplate(%q) expected TemplateRenderError, got %v", in, err)
		}
	}
}

func TestRenderInstanceDescription(t *testing.T) {
	category := &models.ProductCategory{ID: 1, Name: "Portas"}

	cfg := doorConfiguration(100, "Porta Lisa", doorTemplate(category, "Porta {{ cor }} {{ altura }}x{{ largura }}"))
	if got := RenderInstanceDescription(doorInstance(1, cfg, "2000", "branco")); got != "Porta branco 2000x850" {
		t.Fatalf("templated description = %q", got)
	}

	plain := doorConfiguration(101, "Porta Lisa", doorTemplate(category, ""))
	if got := RenderInstanceDescription(doorInstance(2, plain, "2000.7", "branco")); got != "branco (2000x850)mm" {
		t.Fatalf("fallback description = %q", got)
	}

	broken := doorConfiguration(102, "Porta Lisa", doorTemplate(category, "Porta {{ cor"))
	got := RenderInstanceDescription(doorInstance(3, broken, "2000", "branco"))
	if !strings.HasPrefix(got, "[ERROR IN INSTANCE TEMPLATE:") {
		t.Fatalf("broken template rendered %q", got)
	}
}

func TestRenderConfigurationDescription(t *testing.T) {
	category := &models.ProductCategory{ID: 1, Name: "Portas"}
	cfg := doorConfiguration(100, "Porta Lisa", doorTemplate(category, ""))

	if got := RenderConfigurationDescription(cfg); got != "Porta com Fechadura Yale" {
		t.Fatalf("got %q", got)
	}

	cfg.Choices[0].CustomDescription = strPtr("fechadura tetra")
	if got := RenderConfigurationDescription(cfg); got != "Porta com fechadura tetra" {
		t.Fatalf("custom description not used: %q", got)
	}

	cfg.DescriptionTemplate = ""
	if got := RenderConfigurationDescription(cfg); got != "Porta Lisa" {
		t.Fatalf("fallback = %q", got)
	}

	// without a placeholder the template is not rendered at all
	cfg.DescriptionTemplate = "{% bloco %}"
	if got := RenderConfigurationDescription(cfg); got != "Porta Lisa" {
		t.Fatalf("block-only template = %q, expected the name", got)
	}

	cfg.DescriptionTemplate = "Porta {{ componentes.fechadura"
	if got := RenderConfigurationDescription(cfg); !strings.HasPrefix(got, "[ERROR IN CONFIGURATION TEMPLATE:") {
		t.Fatalf("broken template rendered %q", got)
	}
}

func TestBuildBudgetHierarchy(t *testing.T) {
	doors := &models.ProductCategory{ID: 1, Name: "Portas"}
	windows := &models.ProductCategory{ID: 2, Name: "Janelas"}

	doorCfg := doorConfiguration(100, "Porta Lisa", doorTemplate(doors, ""))
	windowTemplate := doorTemplate(windows, "")
	windowTemplate.ID = 20
	windowCfg := doorConfiguration(200, "Janela Correr", windowTemplate)
	frameCfg := doorConfiguration(300, "Aduela", doorTemplate(doors, ""))
	frameCfg.DescriptionTemplate = ""

	items := []*models.BudgetItem{
		instanceItem(1, doorInstance(1, doorCfg, "2000", "branco"), 2, "150.00"),
		instanceItem(2, doorInstance(2, windowCfg, "1200", "cinza"), 1, "300.00"),
		instanceItem(3, doorInstance(3, doorCfg, "2100", "preto"), 1, "160.00"),
		{ID: 4, BudgetId: 1, ManualCode: strPtr("M1"), ManualDescription: strPtr("Transporte"), Quantity: 1, UnitPrice: dec("80"), Total: dec("80")},
		{ID: 5, BudgetId: 1, ConfigurationId: intPtr(300), Configuration: frameCfg, Quantity: 3, UnitPrice: dec("10"), Total: dec("30")},
	}

	h := BuildBudgetHierarchy(items)
	if len(h.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(h.Categories))
	}
	first := h.Categories[0]
	if first.Code != "1" || first.Name != "Portas" || len(first.Configurations) != 2 {
		t.Fatalf("unexpected first category %+v", first)
	}
	door := first.Configurations[0]
	if door.Code != "1.1" || door.Description != "Porta com Fechadura Yale" {
		t.Fatalf("unexpected door node %+v", door)
	}
	if len(door.Instances) != 2 || door.Instances[0].Code != "1.1.1" || door.Instances[1].Code != "1.1.2" {
		t.Fatalf("unexpected door instances")
	}
	if door.Instances[0].ItemId != 1 || door.Instances[1].ItemId != 3 {
		t.Fatalf("instances out of insertion order")
	}
	if door.Instances[0].Description != "branco (2000x850)mm" || door.Instances[0].Unit != "un" {
		t.Fatalf("unexpected instance line %+v", door.Instances[0])
	}
	frame := first.Configurations[1]
	if frame.Code != "1.2" || frame.Line == nil || frame.Line.Code != "1.2" || frame.Line.Description != "Aduela" {
		t.Fatalf("configuration line not claimed: %+v", frame)
	}

	second := h.Categories[1]
	if second.Code != "2" || second.Configurations[0].Code != "2.1" || second.Configurations[0].Instances[0].Code != "2.1.1" {
		t.Fatalf("unexpected second category")
	}

	if len(h.ManualLines) != 1 || h.ManualLines[0].Code != "3" || h.ManualLines[0].Description != "M1 - Transporte" {
		t.Fatalf("unexpected manual lines %+v", h.ManualLines)
	}
	if !h.GrandTotal.Equal(dec("870")) {
		t.Fatalf("grand total = %s, expected 870", h.GrandTotal)
	}
	if len(h.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", h.Warnings)
	}

	// same input, same codes
	again := BuildBudgetHierarchy(items)
	if again.Categories[0].Configurations[0].Instances[1].Code != "1.1.2" {
		t.Fatalf("codes not stable across builds")
	}
}

func TestAggregateComponents(t *testing.T) {
	doors := &models.ProductCategory{ID: 1, Name: "Portas"}
	cfg := doorConfiguration(100, "Porta Lisa", doorTemplate(doors, ""))
	h := BuildBudgetHierarchy([]*models.BudgetItem{
		instanceItem(1, doorInstance(1, cfg, "2000", "branco"), 2, "150"),
		instanceItem(2, doorInstance(2, cfg, "2000", "preto"), 3, "150"),
	})
	aggregated := AggregateComponents(h.Categories[0].Configurations[0])
	if len(aggregated) != 2 {
		t.Fatalf("expected 2 aggregated components, got %d", len(aggregated))
	}
	if aggregated[0].Name != "Fechadura Yale" || !aggregated[0].Quantity.Equal(dec("5")) {
		t.Fatalf("unexpected lock row %+v", aggregated[0])
	}
	if aggregated[1].Name != "Painel MDF" || !aggregated[1].Quantity.Equal(dec("8.5")) || aggregated[1].Unit != "m2" {
		t.Fatalf("unexpected board row %+v", aggregated[1])
	}
	text := ProductionComponentsText(aggregated)
	if !strings.Contains(text, "- Painel MDF: 8.50 m2 - Painel MDF") {
		t.Fatalf("unexpected production text %q", text)
	}
}

func TestDetailedItemDescription(t *testing.T) {
	doors := &models.ProductCategory{ID: 1, Name: "Portas"}
	cfg := doorConfiguration(100, "Porta Lisa", doorTemplate(doors, ""))
	item := instanceItem(1, doorInstance(1, cfg, "2000", "branco"), 1, "150")
	item.ManualCode = strPtr("P01")

	withCosts := DetailedItemDescription(item, true)
	if !strings.HasPrefix(withCosts, "P01 - Porta Lisa - branco (2000x850)mm\n--- Components ---\n") {
		t.Fatalf("unexpected header %q", withCosts)
	}
	if !strings.Contains(withCosts, "(Unit cost: 35.0000)") {
		t.Fatalf("costs missing: %q", withCosts)
	}
	if strings.Contains(DetailedItemDescription(item, false), "Unit cost") {
		t.Fatalf("costs shown on production text")
	}

	cfgItem := &models.BudgetItem{ID: 2, ConfigurationId: intPtr(100), Configuration: cfg, Quantity: 1}
	text := DetailedItemDescription(cfgItem, false)
	if !strings.Contains(text, "- Fechadura Yale: 1 un") || !strings.Contains(text, "- Painel MDF: Variable m2") {
		t.Fatalf("unexpected configuration text %q", text)
	}
}

func TestBudgetWorkbook(t *testing.T) {
	doors := &models.ProductCategory{ID: 1, Name: "Portas"}
	cfg := doorConfiguration(100, "Porta Lisa", doorTemplate(doors, ""))
	budget := &models.Budget{
		ID:         1,
		LegacyCode: "EP107-250625.80-ELLA_V1",
		Version:    1,
		ClientName: strPtr("Cliente 107"),
		Items: []models.BudgetItem{
			*instanceItem(1, doorInstance(1, cfg, "2000", "branco"), 2, "150.00"),
		},
	}

	data, err := BudgetWorkbook(budget)
	if err != nil {
		t.Fatalf("BudgetWorkbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	client, err := f.GetCellValue("Budget", "B3")
	if err != nil || client != "Cliente 107" {
		t.Fatalf("client cell = %q (%v)", client, err)
	}
	rows, err := f.GetRows("Budget")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	var found, total bool
	for _, row := range rows {
		if len(row) >= 6 && row[0] == "1.1.1" {
			found = row[1] == "branco (2000x850)mm" && row[3] == "2" && row[5] == "300"
		}
		if len(row) >= 6 && row[4] == "Total" {
			total = row[5] == "300"
		}
	}
	if !found || !total {
		t.Fatalf("instance row or total missing: %v", rows)
	}

	production, err := ProductionSheetWorkbook(budget)
	if err != nil {
		t.Fatalf("ProductionSheetWorkbook: %v", err)
	}
	pf, err := excelize.OpenReader(bytes.NewReader(production))
	if err != nil {
		t.Fatalf("open production sheet: %v", err)
	}
	cell, err := pf.GetCellValue("Production", "B10")
	if err != nil || !strings.HasPrefix(cell, "Components:") {
		t.Fatalf("aggregated components cell = %q (%v)", cell, err)
	}
}

func TestSummariseSessions(t *testing.T) {
	saw := &models.Workstation{ID: 1, Name: "Serra", HourlyCost: dec("40")}
	cnc := &models.Workstation{ID: 2, Name: "CNC", HourlyCost: dec("90")}
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	end := func(h float64) *time.Time {
		e := start.Add(time.Duration(h * float64(time.Hour)))
		return &e
	}
	sessions := []models.WorkSession{
		{ID: 1, WorkstationId: 1, Workstation: saw, StartedAt: start, EndedAt: end(1.5)},
		{ID: 2, WorkstationId: 2, Workstation: cnc, StartedAt: start, EndedAt: end(2)},
		{ID: 3, WorkstationId: 1, Workstation: saw, StartedAt: start, EndedAt: end(0.5)},
		{ID: 4, WorkstationId: 2, Workstation: cnc, StartedAt: start},
	}
	rows := summariseSessions(sessions)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].WorkstationName != "CNC" || rows[0].Sessions != 1 || !rows[0].TotalCost.Equal(dec("180")) {
		t.Fatalf("unexpected CNC row %+v", rows[0])
	}
	if rows[1].WorkstationName != "Serra" || rows[1].Sessions != 2 || !rows[1].Hours.Equal(dec("2")) || !rows[1].TotalCost.Equal(dec("80")) {
		t.Fatalf("unexpected saw row %+v", rows[1])
	}

	data, err := MachineUtilisationWorkbook(rows, start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("MachineUtilisationWorkbook: %v", err)
	}
	if _, err := excelize.OpenReader(bytes.NewReader(data)); err != nil {
		t.Fatalf("open workbook: %v", err)
	}
}

func TestMergeConsumptionCosts(t *testing.T) {
	rows := []*MaterialConsumptionRow{
		{StockItemId: 1, ItemName: "MDF", TotalQuantity: dec("8")},
		{StockItemId: 2, ItemName: "Cola", TotalQuantity: dec("1")},
	}
	merged, total := mergeConsumptionCosts(rows, []consumptionCost{{StockItemId: 1, TotalCost: dec("86")}})
	if !merged[0].TotalCost.Equal(dec("86")) || !merged[1].TotalCost.IsZero() {
		t.Fatalf("unexpected merge %+v %+v", merged[0], merged[1])
	}
	if !total.Equal(dec("86")) {
		t.Fatalf("total = %s", total)
	}
}
