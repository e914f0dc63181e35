// Package memory keeps every repository in process memory. It honours the
// same uniqueness and state rules as the postgres implementation and backs
// the service tests and the "memory" database driver.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

// DB holds all tables behind one lock.
type DB struct {
	mu           sync.RWMutex
	businesses   map[uuid.UUID]*model.Business
	customers    map[uuid.UUID]*model.Customer
	transactions map[uuid.UUID]*model.Transaction
	queue        map[uuid.UUID]*model.SyncQueueEntry
	mappings     map[uuid.UUID]*model.SystemMapping
	// seq orders rows inserted within the same clock tick.
	seq      int64
	queueSeq map[uuid.UUID]int64
}

func NewDB() *DB {
	return &DB{
		businesses:   make(map[uuid.UUID]*model.Business),
		customers:    make(map[uuid.UUID]*model.Customer),
		transactions: make(map[uuid.UUID]*model.Transaction),
		queue:        make(map[uuid.UUID]*model.SyncQueueEntry),
		mappings:     make(map[uuid.UUID]*model.SystemMapping),
		queueSeq:     make(map[uuid.UUID]int64),
	}
}

// NewStore wires every repository on db.
func NewStore(db *DB) *repository.Store {
	return &repository.Store{
		Businesses:   &businessRepository{db},
		Customers:    &customerRepository{db},
		Transactions: &transactionRepository{db},
		Queue:        &syncQueueRepository{db},
		Mappings:     &mappingRepository{db},
	}
}

// AddBusiness seeds a business.
func (db *DB) AddBusiness(b *model.Business) *model.Business {
	db.mu.Lock()
	defer db.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		db.seq++
		b.CreatedAt = time.Now().Add(time.Duration(db.seq))
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	cp := *b
	db.businesses[b.ID] = &cp
	return b
}

// AddTransaction seeds a transaction and its items.
func (db *DB) AddTransaction(t *model.Transaction) *model.Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.SyncStatus == "" {
		t.SyncStatus = model.TransactionSyncPending
	}
	for i := range t.Items {
		if t.Items[i].ID == uuid.Nil {
			t.Items[i].ID = uuid.New()
		}
		t.Items[i].TransactionID = t.ID
	}
	db.transactions[t.ID] = copyTransaction(t)
	return t
}

// DeleteCustomer removes a customer row, simulating a hard delete.
func (db *DB) DeleteCustomer(id uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.customers, id)
}

// DeleteTransaction removes a transaction row.
func (db *DB) DeleteTransaction(id uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.transactions, id)
}

func copyTransaction(t *model.Transaction) *model.Transaction {
	cp := *t
	cp.Items = append([]model.TransactionItem(nil), t.Items...)
	return &cp
}

func copyEntry(e *model.SyncQueueEntry) *model.SyncQueueEntry {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	return &cp
}
