package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionSyncStatus string

const (
	TransactionSyncPending TransactionSyncStatus = "PENDING"
	TransactionSyncSuccess TransactionSyncStatus = "SUCCESS"
	TransactionSyncFailed  TransactionSyncStatus = "FAILED"
)

const DefaultCurrency = "USD"

type Transaction struct {
	Base
	BusinessID            uuid.UUID             `db:"business_id" json:"business_id"`
	CustomerID            *uuid.UUID            `db:"customer_id" json:"customer_id,omitempty"`
	TransactionNumber     string                `db:"transaction_number" json:"transaction_number"`
	Subtotal              decimal.Decimal       `db:"subtotal" json:"subtotal"`
	TaxAmount             decimal.Decimal       `db:"tax_amount" json:"tax_amount"`
	DiscountAmount        decimal.Decimal       `db:"discount_amount" json:"discount_amount"`
	Total                 decimal.Decimal       `db:"total" json:"total"`
	PaymentMethod         string                `db:"payment_method" json:"payment_method"`
	LoyaltyPointsEarned   int                   `db:"loyalty_points_earned" json:"loyalty_points_earned"`
	LoyaltyPointsRedeemed int                   `db:"loyalty_points_redeemed" json:"loyalty_points_redeemed"`
	Status                string                `db:"status" json:"status"`
	Notes                 string                `db:"notes" json:"notes"`
	SyncStatus            TransactionSyncStatus `db:"sync_status" json:"sync_status"`
	SyncError             *string               `db:"sync_error" json:"sync_error,omitempty"`
	LastSyncedAt          *time.Time            `db:"last_synced_at" json:"last_synced_at,omitempty"`
	Items                 []TransactionItem     `db:"-" json:"items"`
}

type TransactionItem struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TransactionID uuid.UUID       `db:"transaction_id" json:"transaction_id"`
	ProductID     *uuid.UUID      `db:"product_id" json:"product_id,omitempty"`
	ProductName   string          `db:"product_name" json:"product_name"`
	SKU           string          `db:"sku" json:"sku"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	Total         decimal.Decimal `db:"total" json:"total"`
}

// TransactionSnapshot is the CRM wire form of a sale.
type TransactionSnapshot struct {
	TransactionID     string                    `json:"transactionId"`
	TransactionNumber string                    `json:"transactionNumber"`
	TenantID          string                    `json:"tenantId,omitempty"`
	CustomerID        string                    `json:"customerId,omitempty"`
	CustomerEmail     string                    `json:"customerEmail"`
	Amount            string                    `json:"amount"`
	Tax               string                    `json:"tax"`
	Discount          string                    `json:"discount"`
	Total             string                    `json:"total"`
	Currency          string                    `json:"currency"`
	PaymentMethod     string                    `json:"paymentMethod"`
	PointsEarned      int                       `json:"pointsEarned"`
	PointsRedeemed    int                       `json:"pointsRedeemed"`
	Items             []TransactionItemSnapshot `json:"items"`
	Status            string                    `json:"status"`
	Notes             string                    `json:"notes"`
	Timestamp         string                    `json:"timestamp"`
}

type TransactionItemSnapshot struct {
	ProductID   string `json:"productId,omitempty"`
	ProductName string `json:"productName"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Discount    string `json:"discount"`
	Tax         string `json:"tax"`
	Total       string `json:"total"`
}

// Snapshot projects the transaction onto its wire form. customer may be nil.
func (t *Transaction) Snapshot(customer *Customer) TransactionSnapshot {
	s := TransactionSnapshot{
		TransactionID:     t.ID.String(),
		TransactionNumber: t.TransactionNumber,
		Amount:            t.Subtotal.StringFixed(2),
		Tax:               t.TaxAmount.StringFixed(2),
		Discount:          t.DiscountAmount.StringFixed(2),
		Total:             t.Total.StringFixed(2),
		Currency:          DefaultCurrency,
		PaymentMethod:     t.PaymentMethod,
		PointsEarned:      t.LoyaltyPointsEarned,
		PointsRedeemed:    t.LoyaltyPointsRedeemed,
		Status:            t.Status,
		Notes:             t.Notes,
		Timestamp:         t.CreatedAt.UTC().Format(time.RFC3339),
		Items:             make([]TransactionItemSnapshot, 0, len(t.Items)),
	}
	if t.CustomerID != nil {
		s.CustomerID = t.CustomerID.String()
	}
	if customer != nil && customer.Email != nil {
		s.CustomerEmail = *customer.Email
	}
	for _, it := range t.Items {
		item := TransactionItemSnapshot{
			ProductName: it.ProductName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Discount:    it.Discount.StringFixed(2),
			Tax:         it.Tax.StringFixed(2),
			Total:       it.Total.StringFixed(2),
		}
		if it.ProductID != nil {
			item.ProductID = it.ProductID.String()
		}
		s.Items = append(s.Items, item)
	}
	return s
}
