package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Catalog read models. They are the authoritative price source; nothing in
// this service writes them except the dev seed.

type Beat struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Title     string `gorm:"size:255;not null"`
	Producer  string `gorm:"size:255"`
	MP3Path   string `gorm:"size:512"`
	WAVPath   string `gorm:"size:512"`
	StemsPath string `gorm:"size:512"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type LicenseTier struct {
	ID            string `gorm:"primaryKey;size:64;not null"`
	BeatID        string `gorm:"size:64;index;not null"`
	Name          string `gorm:"size:128;not null"` // display name, e.g. "WAV Lease"
	LicenseType   string `gorm:"size:32;not null"`  // rights table key
	Price         int64  `gorm:"not null"`          // cents
	IncludesWAV   bool   `gorm:"not null"`
	IncludesStems bool   `gorm:"not null"`
	IsActive      bool   `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type SoundKit struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Title     string `gorm:"size:255;not null"`
	Price     int64  `gorm:"not null"`
	FilePath  string `gorm:"size:512"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ServiceOffering struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Title     string `gorm:"size:255;not null"`
	Price     int64  `gorm:"not null"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ServiceOffering) TableName() string { return "services" }

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountCode struct {
	Code           string          `gorm:"primaryKey;size:64;not null"` // stored upper-case
	Type           DiscountType    `gorm:"size:16;not null"`
	Value          decimal.Decimal `gorm:"type:decimal(10,2);not null"` // percent, or major units for fixed
	MinOrderAmount int64           `gorm:"not null"`                    // cents
	MaxUses        *int
	CurrentUses    int  `gorm:"not null"`
	IsActive       bool `gorm:"not null"`
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LicenseTemplate struct {
	ID          uint    `gorm:"primaryKey"`
	LicenseType string  `gorm:"size:32;index;not null"`
	StoragePath *string `gorm:"size:512"`
	IsActive    bool    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GeneratedLicenseDocument is unique per (order, item); regeneration
// updates the row in place.
type GeneratedLicenseDocument struct {
	ID          uint   `gorm:"primaryKey"`
	OrderID     string `gorm:"size:64;not null;uniqueIndex:idx_license_doc_key,priority:1"`
	OrderItemID string `gorm:"size:64;not null;uniqueIndex:idx_license_doc_key,priority:2"`
	StoragePath string `gorm:"size:512;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookEvent is the durable inbox row written before a delivery is acked.
type WebhookEvent struct {
	EventID     string        `gorm:"primaryKey;size:128;not null"`
	EventType   string        `gorm:"size:64;index"`
	ResourceID  string        `gorm:"size:128;index"`
	Payload     string        `gorm:"type:text;not null"`
	Status      WebhookStatus `gorm:"size:16;index;not null"`
	Attempts    int           `gorm:"not null"`
	LastError   string        `gorm:"size:1024"`
	ReceivedAt  time.Time     `gorm:"not null"`
	ProcessedAt *time.Time
}

// PaymentSetting holds database overrides for gateway credentials.
type PaymentSetting struct {
	Key       string `gorm:"primaryKey;size:64;not null"`
	Value     string `gorm:"size:1024;not null"`
	UpdatedAt time.Time
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{
		&Beat{},
		&LicenseTier{},
		&SoundKit{},
		&ServiceOffering{},
		&Order{},
		&OrderItem{},
		&DiscountCode{},
		&LicenseTemplate{},
		&GeneratedLicenseDocument{},
		&WebhookEvent{},
		&PaymentSetting{},
	}
}
