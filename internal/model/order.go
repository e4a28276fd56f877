package model

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderRefunded  OrderStatus = "refunded"
	OrderCancelled OrderStatus = "cancelled"
)

// transitions is the full order state graph; anything absent is rejected.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderCompleted, OrderFailed, OrderCancelled},
	OrderCompleted: {OrderRefunded},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ItemType tags what an order line refers to. Every switch over it must
// handle all three kinds.
type ItemType string

const (
	ItemBeat     ItemType = "beat"
	ItemSoundKit ItemType = "sound_kit"
	ItemService  ItemType = "service"
)

func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case ItemBeat, ItemSoundKit, ItemService:
		return ItemType(s), nil
	default:
		return "", fmt.Errorf("unknown item type %q", s)
	}
}

type Order struct {
	ID                string      `gorm:"primaryKey;size:64;not null" json:"id"`
	CustomerEmail     string      `gorm:"size:255;index;not null" json:"customer_email"`
	CustomerName      *string     `gorm:"size:255" json:"customer_name,omitempty"`
	Status            OrderStatus `gorm:"size:16;index;not null" json:"status"`
	Currency          string      `gorm:"size:8;not null" json:"currency"`
	Subtotal          int64       `gorm:"not null" json:"subtotal"`        // sum of item unit prices, cents
	DiscountAmount    int64       `gorm:"not null" json:"discount_amount"` // cents
	Total             int64       `gorm:"not null" json:"total"`           // subtotal - discount, cents
	DiscountCode      *string     `gorm:"size:64" json:"discount_code,omitempty"`
	GatewayOrderID    string      `gorm:"size:64;index" json:"gateway_order_id"`
	GatewayCaptureID  *string     `gorm:"size:64;index" json:"gateway_capture_id,omitempty"`
	FailureReason     string      `gorm:"size:255" json:"failure_reason,omitempty"`
	DownloadExpiresAt time.Time   `gorm:"not null" json:"download_expires_at"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

type OrderItem struct {
	ID               string   `gorm:"primaryKey;size:64;not null" json:"id"`
	OrderID          string   `gorm:"size:64;index;not null" json:"order_id"`
	ItemType         ItemType `gorm:"size:16;not null" json:"item_type"`
	ReferencedItemID string   `gorm:"size:64;not null" json:"referenced_item_id"`
	LicenseTierID    *string  `gorm:"size:64" json:"license_tier_id,omitempty"`
	LicenseType      string   `gorm:"size:32;not null" json:"license_type"`
	Title            string   `gorm:"size:255;not null" json:"title"`
	LicenseName      string   `gorm:"size:128;not null" json:"license_name"`
	UnitPrice        int64    `gorm:"not null" json:"unit_price"` // cents
	DownloadCount    int64    `gorm:"not null" json:"download_count"`

	CreatedAt time.Time `json:"created_at"`
}

// ExpectedTotal recomputes the total from the items; it must equal Total.
func (o *Order) ExpectedTotal() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.UnitPrice
	}
	return sum - o.DiscountAmount
}
