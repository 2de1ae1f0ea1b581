package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/mmdatafocus/factory_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestFactoryLedgerAndBudgets(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")
	t.Setenv("STOCK_EVENTS_ENABLED", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	actor := models.ActorFromContext(ctx)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	code := "MDF"
	category, err := models.CreateStockCategory(ctx, &models.NewStockCategory{Name: "Painéis", Code: &code})
	if err != nil {
		t.Fatalf("CreateStockCategory: %v", err)
	}

	newItem := func(t *testing.T, name string) *models.StockItem {
		t.Helper()
		item, err := models.CreateStockItem(ctx, &models.NewStockItem{CategoryId: category.ID, Name: name, Unit: models.StockUnitPiece})
		if err != nil {
			t.Fatalf("CreateStockItem: %v", err)
		}
		return item
	}
	receive := func(t *testing.T, itemId int, qty, cost string, daysAgo int) {
		t.Helper()
		entry := time.Now().AddDate(0, 0, -daysAgo)
		_, err := models.ReceiveStock(ctx, &models.NewStockReceipt{
			StockItemId: itemId,
			Quantity:    decimal.RequireFromString(qty),
			UnitCost:    decimal.RequireFromString(cost),
			EntryDate:   &entry,
		}, actor)
		if err != nil {
			t.Fatalf("ReceiveStock: %v", err)
		}
	}
	count := func(t *testing.T, model interface{}, where string, args ...interface{}) int64 {
		t.Helper()
		var n int64
		if err := db.Model(model).Where(where, args...).Count(&n).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}
	requireConsistent := func(t *testing.T, itemId int) {
		t.Helper()
		rec, err := models.ReconcileStockItem(ctx, itemId)
		if err != nil {
			t.Fatalf("ReconcileStockItem: %v", err)
		}
		if !rec.Consistent() {
			t.Fatalf("ledger drifted: %+v", rec)
		}
	}

	t.Run("internal codes follow the category sequence", func(t *testing.T) {
		first := newItem(t, "MDF 15mm")
		second := newItem(t, "MDF 18mm")
		if first.InternalCode != "MDF-0001" || second.InternalCode != "MDF-0002" {
			t.Fatalf("codes %q and %q", first.InternalCode, second.InternalCode)
		}
	})

	t.Run("consumption is all or nothing", func(t *testing.T) {
		item := newItem(t, "MDF branco")
		receive(t, item.ID, "2", "10", 3)
		receive(t, item.ID, "3", "11", 1)

		order, err := models.CreateWorkOrder(ctx, &models.NewWorkOrder{
			Reference:        "OP-001",
			StartDate:        time.Now(),
			ExpectedDelivery: time.Now().AddDate(0, 0, 7),
		})
		if err != nil {
			t.Fatalf("CreateWorkOrder: %v", err)
		}

		_, err = models.RecordConsumption(ctx, &models.NewConsumedItem{WorkOrderId: order.ID, StockItemId: item.ID, Quantity: decimal.NewFromInt(8)})
		var insufficient *models.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		if !insufficient.Available.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("available = %s", insufficient.Available)
		}
		if n := count(t, &models.ConsumedItem{}, "work_order_id = ?", order.ID); n != 0 {
			t.Fatalf("consumed item was kept after rollback: %d", n)
		}
		if n := count(t, &models.StockMovement{}, "stock_item_id = ?", item.ID); n != 2 {
			t.Fatalf("expected only the 2 entry movements, got %d", n)
		}

		consumed, err := models.RecordConsumption(ctx, &models.NewConsumedItem{WorkOrderId: order.ID, StockItemId: item.ID, Quantity: decimal.NewFromInt(4)})
		if err != nil {
			t.Fatalf("RecordConsumption: %v", err)
		}
		if len(consumed.Movements) != 2 {
			t.Fatalf("expected 2 FIFO movements, got %d", len(consumed.Movements))
		}
		cost := decimal.Zero
		for _, m := range consumed.Movements {
			cost = cost.Sub(m.Value())
		}
		if !cost.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("consumption cost = %s, expected 42", cost)
		}

		balance, err := models.StockBalance(ctx, item.ID)
		if err != nil {
			t.Fatalf("StockBalance: %v", err)
		}
		if !balance.Available.Equal(decimal.NewFromInt(1)) || balance.OpenBatches != 1 {
			t.Fatalf("unexpected balance %+v", balance)
		}
		requireConsistent(t, item.ID)

		if _, err := models.UpdateWorkOrderStatus(ctx, order.ID, models.WorkOrderStatusCancelled); err != nil {
			t.Fatalf("UpdateWorkOrderStatus: %v", err)
		}
		if _, err := models.RecordConsumption(ctx, &models.NewConsumedItem{WorkOrderId: order.ID, StockItemId: item.ID, Quantity: decimal.NewFromInt(1)}); err == nil {
			t.Fatalf("cancelled order accepted consumption")
		}
	})

	t.Run("adjustment below stock reports the shortfall", func(t *testing.T) {
		item := newItem(t, "MDF cru")
		receive(t, item.ID, "2", "10", 2)
		receive(t, item.ID, "3", "12", 1)

		result, err := models.AdjustStock(ctx, item.ID, decimal.NewFromInt(-3), actor, "inventário")
		if err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
		if !result.Difference.Equal(decimal.NewFromInt(-8)) || !result.Shortfall.Equal(decimal.NewFromInt(3)) {
			t.Fatalf("difference %s shortfall %s", result.Difference, result.Shortfall)
		}
		total := decimal.Zero
		for _, m := range result.Movements {
			if m.Kind != models.StockMovementAdjustNegative {
				t.Fatalf("unexpected movement kind %s", m.Kind)
			}
			total = total.Add(m.Quantity)
		}
		if !total.Equal(decimal.NewFromInt(-5)) {
			t.Fatalf("movements total %s, expected -5", total)
		}
		requireConsistent(t, item.ID)

		surplus, err := models.AdjustStock(ctx, item.ID, decimal.NewFromInt(2), actor, "")
		if err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
		if len(surplus.Movements) != 1 || surplus.Movements[0].Kind != models.StockMovementAdjustPositive {
			t.Fatalf("unexpected surplus movements %+v", surplus.Movements)
		}
		requireConsistent(t, item.ID)

		if n := count(t, &models.StockEventRecord{}, "stock_item_id = ?", item.ID); n != 4 {
			t.Fatalf("expected 4 stock events, got %d", n)
		}
	})

	t.Run("dispatcher publishes pending stock events", func(t *testing.T) {
		pending := count(t, &models.StockEventRecord{}, "publish_status = ?", models.OutboxPublishStatusPending)
		if pending == 0 {
			t.Fatalf("no pending stock events")
		}

		failing := workflow.NewStockEventDispatcher(db, logrus.New())
		failing.Publish = func(context.Context, config.StockEventMessage) (string, error) {
			return "", errors.New("broker down")
		}
		if n := failing.DispatchOnce(ctx); n != 0 {
			t.Fatalf("failing publish reported %d sent", n)
		}
		if n := count(t, &models.StockEventRecord{}, "publish_status = ? AND next_attempt_at IS NOT NULL", models.OutboxPublishStatusFailed); n != pending {
			t.Fatalf("expected %d FAILED rows, got %d", pending, n)
		}
		// not due yet
		if err := db.Model(&models.StockEventRecord{}).Where("publish_status = ?", models.OutboxPublishStatusFailed).
			UpdateColumn("next_attempt_at", time.Now().UTC().Add(-time.Second)).Error; err != nil {
			t.Fatalf("reset next_attempt_at: %v", err)
		}

		var published []config.StockEventMessage
		dispatcher := workflow.NewStockEventDispatcher(db, logrus.New())
		dispatcher.Publish = func(_ context.Context, msg config.StockEventMessage) (string, error) {
			published = append(published, msg)
			return fmt.Sprintf("msg-%d", msg.ID), nil
		}
		if n := dispatcher.DispatchOnce(ctx); int64(n) != pending {
			t.Fatalf("dispatched %d, expected %d", n, pending)
		}
		for i := 1; i < len(published); i++ {
			if published[i].ID < published[i-1].ID {
				t.Fatalf("events published out of order")
			}
		}
		if n := count(t, &models.StockEventRecord{}, "publish_status = ? AND publish_attempts = 2", models.OutboxPublishStatusSent); n != pending {
			t.Fatalf("expected %d SENT rows, got %d", pending, n)
		}
		if n := dispatcher.DispatchOnce(ctx); n != 0 {
			t.Fatalf("sent rows were published again")
		}
	})

	t.Run("versioning clones instances with their bill of materials", func(t *testing.T) {
		productCategory, err := models.CreateProductCategory(ctx, &models.NewProductCategory{Name: "Portas"})
		if err != nil {
			t.Fatalf("CreateProductCategory: %v", err)
		}
		altura, err := models.CreateAttribute(ctx, &models.NewAttribute{Name: "Altura", Type: models.AttributeTypeNumeric})
		if err != nil {
			t.Fatalf("CreateAttribute: %v", err)
		}
		genericHinge, err := models.CreateComponent(ctx, &models.NewComponent{Name: "Dobradiça", Unit: "un"})
		if err != nil {
			t.Fatalf("CreateComponent: %v", err)
		}
		realHinge, err := models.CreateComponent(ctx, &models.NewComponent{Name: "Dobradiça inox", Unit: "un", UnitCost: decimal.NewFromInt(5)})
		if err != nil {
			t.Fatalf("CreateComponent: %v", err)
		}
		template, err := models.CreateProductTemplate(ctx, &models.NewProductTemplate{
			CategoryId: productCategory.ID,
			Name:       "Porta",
			Attributes: []models.NewTemplateAttribute{{AttributeId: altura.ID, Sequence: 1}},
			Components: []models.NewTemplateComponent{{ComponentId: genericHinge.ID, Formula: "math.ceil(altura / 1200) * 2", Sequence: 1}},
		})
		if err != nil {
			t.Fatalf("CreateProductTemplate: %v", err)
		}
		cfg, err := models.CreateProductConfiguration(ctx, &models.NewProductConfiguration{
			TemplateId: template.ID,
			Name:       "Porta inox",
			Choices:    []models.NewComponentChoice{{TemplateComponentId: template.Components[0].ID, ComponentId: realHinge.ID}},
		})
		if err != nil {
			t.Fatalf("CreateProductConfiguration: %v", err)
		}

		budget, err := models.CreateBudget(ctx, &models.NewBudget{LegacyCode: "EP107-250625.80-ELLA_V1"})
		if err != nil {
			t.Fatalf("CreateBudget: %v", err)
		}
		height := decimal.NewFromInt(2000)
		added, err := models.AddInstanceItem(ctx, budget.ID, &models.NewInstanceItem{
			PricingInput:    models.PricingInput{Quantity: 2, Margin: decimal.NewFromInt(20)},
			ConfigurationId: cfg.ID,
			Attributes:      []models.NewInstanceAttribute{{TemplateAttributeId: template.Attributes[0].ID, NumValue: &height}},
		})
		if err != nil {
			t.Fatalf("AddInstanceItem: %v", err)
		}
		// 4 hinges at 5 with a 20% margin
		if !added.Item.UnitPrice.Equal(decimal.NewFromInt(25)) || !added.Item.Total.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("unit price %s total %s", added.Item.UnitPrice, added.Item.Total)
		}
		manualCode := "M1"
		manual, err := models.AddManualItem(ctx, budget.ID, &models.NewManualItem{
			PricingInput: models.PricingInput{Quantity: 1, UnitPrice: &height, ParentId: &added.Item.ID},
			ManualCode:   &manualCode,
			Description:  "Instalação",
		})
		if err != nil {
			t.Fatalf("AddManualItem: %v", err)
		}
		second, err := models.AddInstanceItem(ctx, budget.ID, &models.NewInstanceItem{
			PricingInput:    models.PricingInput{Quantity: 1, Margin: decimal.NewFromInt(20)},
			ConfigurationId: cfg.ID,
			Attributes:      []models.NewInstanceAttribute{{TemplateAttributeId: template.Attributes[0].ID, NumValue: &height}},
		})
		if err != nil {
			t.Fatalf("AddInstanceItem: %v", err)
		}

		next, err := models.VersionBudget(ctx, budget.ID)
		if err != nil {
			t.Fatalf("VersionBudget: %v", err)
		}
		if next.Version != 2 || next.LegacyCode != "EP107-250625.80-ELLA_V2" {
			t.Fatalf("version %d code %q", next.Version, next.LegacyCode)
		}
		if len(next.Items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(next.Items))
		}
		clone := next.Items[0]
		if clone.InstanceId == nil || *clone.InstanceId == *added.Item.InstanceId {
			t.Fatalf("instance was not cloned")
		}
		if clone.Instance == nil || len(clone.Instance.Components) != 1 || !clone.Instance.Components[0].Quantity.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("cloned BOM missing: %+v", clone.Instance)
		}
		if clone.Instance.ConfigurationId == cfg.ID {
			t.Fatalf("configuration was not cloned")
		}
		if !clone.Total.Equal(added.Item.Total) {
			t.Fatalf("cloned total %s", clone.Total)
		}
		if next.Items[1].ParentId == nil || *next.Items[1].ParentId != clone.ID {
			t.Fatalf("parent link not remapped")
		}
		secondClone := next.Items[2]
		if secondClone.Instance == nil || *secondClone.InstanceId == *second.Item.InstanceId {
			t.Fatalf("second instance was not cloned")
		}
		if secondClone.Instance.ConfigurationId != clone.Instance.ConfigurationId {
			t.Fatalf("instances sharing a configuration were split: %d and %d", clone.Instance.ConfigurationId, secondClone.Instance.ConfigurationId)
		}

		if _, err := models.VersionBudget(ctx, budget.ID); err == nil {
			t.Fatalf("versioning the same source twice should clash on version 2")
		}

		// 2500 needs 6 hinges: 30 at cost, 37.5 with the margin
		taller := decimal.NewFromInt(2500)
		updated, err := models.UpdateInstanceAttributes(ctx, added.Item.ID, []models.NewInstanceAttribute{
			{TemplateAttributeId: template.Attributes[0].ID, NumValue: &taller},
		})
		if err != nil {
			t.Fatalf("UpdateInstanceAttributes: %v", err)
		}
		if !updated.Item.UnitPrice.Equal(decimal.RequireFromString("37.5")) {
			t.Fatalf("repriced unit price %s", updated.Item.UnitPrice)
		}
		instance, err := utils.FetchModel[models.ProductInstance](ctx, *added.Item.InstanceId, "Components")
		if err != nil {
			t.Fatalf("FetchModel instance: %v", err)
		}
		if len(instance.Components) != 1 || !instance.Components[0].Quantity.Equal(decimal.NewFromInt(6)) {
			t.Fatalf("BOM not replaced: %+v", instance.Components)
		}

		cost := decimal.NewFromInt(10)
		if _, err := models.UpdateInstanceComponent(ctx, instance.Components[0].ID, &models.UpdateInstanceComponentInput{UnitCost: &cost}); err != nil {
			t.Fatalf("UpdateInstanceComponent: %v", err)
		}
		item, err := utils.FetchModel[models.BudgetItem](ctx, added.Item.ID)
		if err != nil {
			t.Fatalf("FetchModel item: %v", err)
		}
		if !item.UnitPrice.Equal(decimal.NewFromInt(75)) {
			t.Fatalf("unit price after BOM edit %s", item.UnitPrice)
		}

		var parentErr *models.InvalidParentError
		if _, err := models.SetBudgetItemParent(ctx, added.Item.ID, &added.Item.ID); !errors.As(err, &parentErr) {
			t.Fatalf("self parent: expected InvalidParentError, got %v", err)
		}
		if _, err := models.SetBudgetItemParent(ctx, added.Item.ID, &manual.ID); !errors.As(err, &parentErr) {
			t.Fatalf("cycle: expected InvalidParentError, got %v", err)
		}

		if err := models.DeleteBudgetItem(ctx, added.Item.ID); err != nil {
			t.Fatalf("DeleteBudgetItem: %v", err)
		}
		if _, err := utils.FetchModel[models.BudgetItem](ctx, manual.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
			t.Fatalf("child item survived the delete: %v", err)
		}
		if _, err := utils.FetchModel[models.ProductInstance](ctx, *added.Item.InstanceId); !errors.Is(err, utils.ErrorRecordNotFound) {
			t.Fatalf("owned instance survived the delete: %v", err)
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factory_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
