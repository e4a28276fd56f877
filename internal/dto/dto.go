package dto

import (
	"beatstore/internal/model"
	"beatstore/internal/service"
)

type OrderItem struct {
	Type          string `json:"type" validate:"required,oneof=beat sound_kit service"`
	ID            string `json:"id" validate:"required,max=64"`
	LicenseTierID string `json:"license_tier_id,omitempty" validate:"required_if=Type beat,max=64"`
}

type CreateOrderRequest struct {
	Items         []*OrderItem `json:"items" validate:"required,min=1,max=50,dive,required"`
	CustomerEmail string       `json:"customer_email" validate:"required,email,max=255"`
	CustomerName  *string      `json:"customer_name,omitempty" validate:"omitempty,max=255"`
	DiscountCode  *string      `json:"discount_code,omitempty" validate:"omitempty,max=64"`
}

type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	ApprovalURL string `json:"approval_url"`
}

type DownloadsResponse struct {
	Order     *model.Order       `json:"order"`
	Downloads []service.Download `json:"downloads"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
