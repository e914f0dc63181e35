package model

import "fmt"

// EntityType is the closed set of records that travel through the sync queue.
type EntityType string

const (
	EntityCustomer    EntityType = "CUSTOMER"
	EntityTransaction EntityType = "TRANSACTION"
	EntityBusiness    EntityType = "BUSINESS"
	EntityProduct     EntityType = "PRODUCT"
)

// EntityTypes lists every known entity type.
var EntityTypes = []EntityType{EntityCustomer, EntityTransaction, EntityBusiness, EntityProduct}

func (t EntityType) Valid() bool {
	for _, et := range EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// ParseEntityType accepts the canonical upper-case form only.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities for dequeue, lower first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}
