package models

import (
	"log"

	"github.com/mmdatafocus/factory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ProductCategory{}, &Attribute{}, &Component{},
		&ProductTemplate{}, &TemplateAttribute{}, &TemplateComponent{},
		&ProductConfiguration{}, &ComponentChoice{},
		&ProductInstance{}, &InstanceAttribute{}, &InstanceComponent{},
		&Budget{}, &BudgetItem{},
		&StockCategory{}, &StockItem{}, &StockBatch{}, &StockMovement{},
		&Workstation{}, &Operator{}, &WorkOrder{}, &ConsumedItem{}, &WorkSession{},
		&StockEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
