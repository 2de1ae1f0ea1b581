package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AttributeType string

const (
	AttributeTypeNumeric AttributeType = "num"
	AttributeTypeText    AttributeType = "str"
	AttributeTypeChoice  AttributeType = "choice"
)

func (t AttributeType) IsValid() bool {
	switch t {
	case AttributeTypeNumeric, AttributeTypeText, AttributeTypeChoice:
		return true
	}
	return false
}

// convert input to enum type
func (t *AttributeType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("attribute type must be string")
	}
	v := AttributeType(str)
	if !v.IsValid() {
		return fmt.Errorf("invalid attribute type %q", str)
	}
	*t = v
	return nil
}

type StockMovementKind string

const (
	StockMovementEntry          StockMovementKind = "ENTRADA"
	StockMovementOutput         StockMovementKind = "SAIDA"
	StockMovementAdjustPositive StockMovementKind = "AJUSTE_POSITIVO"
	StockMovementAdjustNegative StockMovementKind = "AJUSTE_NEGATIVO"
)

// inbound kinds carry positive quantities, outbound kinds negative ones
func (k StockMovementKind) IsInbound() bool {
	return k == StockMovementEntry || k == StockMovementAdjustPositive
}

func (k StockMovementKind) IsValid() bool {
	switch k {
	case StockMovementEntry, StockMovementOutput, StockMovementAdjustPositive, StockMovementAdjustNegative:
		return true
	}
	return false
}

type StockUnit string

const (
	StockUnitPiece       StockUnit = "un"
	StockUnitMeter       StockUnit = "m"
	StockUnitSquareMeter StockUnit = "m2"
	StockUnitCubicMeter  StockUnit = "m3"
	StockUnitKilogram    StockUnit = "kg"
	StockUnitLiter       StockUnit = "L"
)

func (u StockUnit) IsValid() bool {
	switch u {
	case StockUnitPiece, StockUnitMeter, StockUnitSquareMeter, StockUnitCubicMeter, StockUnitKilogram, StockUnitLiter:
		return true
	}
	return false
}

func (u *StockUnit) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("stock unit must be string")
	}
	v := StockUnit(str)
	if !v.IsValid() {
		return fmt.Errorf("invalid stock unit %q", str)
	}
	*u = v
	return nil
}

type WorkOrderStatus string

const (
	WorkOrderStatusPlanned    WorkOrderStatus = "planejada"
	WorkOrderStatusInProgress WorkOrderStatus = "em_andamento"
	WorkOrderStatusCompleted  WorkOrderStatus = "concluida"
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelada"
)

// allowed status moves; completed and cancelled are terminal
var workOrderTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderStatusPlanned:    {WorkOrderStatusInProgress, WorkOrderStatusCancelled},
	WorkOrderStatusInProgress: {WorkOrderStatusCompleted, WorkOrderStatusCancelled},
}

func (s WorkOrderStatus) CanMoveTo(next WorkOrderStatus) bool {
	for _, allowed := range workOrderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// consumption may only be booked against open orders
func (s WorkOrderStatus) AcceptsConsumption() bool {
	return s == WorkOrderStatusPlanned || s == WorkOrderStatusInProgress
}

func (s *WorkOrderStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("work order status must be string")
	}
	switch v := WorkOrderStatus(str); v {
	case WorkOrderStatusPlanned, WorkOrderStatusInProgress, WorkOrderStatusCompleted, WorkOrderStatusCancelled:
		*s = v
		return nil
	}
	return fmt.Errorf("invalid work order status %q", str)
}

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
