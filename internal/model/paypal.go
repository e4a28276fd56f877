package model

import "strings"

type PaypalLink struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

type Amount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type RelatedIDs struct {
	OrderID   string `json:"order_id"`
	CaptureID string `json:"capture_id"`
}

type SupplementaryData struct {
	RelatedIDs RelatedIDs `json:"related_ids"`
}

// PaypalResource is the "resource" object of a webhook event. For
// PAYMENT.CAPTURE.* events it is a capture; for refunds it is a refund whose
// "up" link points at the capture.
type PaypalResource struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CustomID          string            `json:"custom_id"`
	InvoiceID         string            `json:"invoice_id"`
	Amount            Amount            `json:"amount"`
	SupplementaryData SupplementaryData `json:"supplementary_data"`
	Links             []PaypalLink      `json:"links"`
}

type PayPalWebhookEvent struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	CreateTime   string         `json:"create_time"`
	Summary      string         `json:"summary"`
	Resource     PaypalResource `json:"resource"`
}

const (
	EventCheckoutOrderApproved  = "CHECKOUT.ORDER.APPROVED"
	EventPaymentCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	EventPaymentCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	EventPaymentCaptureDeclined = "PAYMENT.CAPTURE.DECLINED"
	EventPaymentCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
	EventPaymentCaptureReversed = "PAYMENT.CAPTURE.REVERSED"
)

// CaptureIDFromLinks extracts the capture id from a refund's "up" link,
// e.g. https://api.paypal.com/v2/payments/captures/CAP123.
func (r PaypalResource) CaptureIDFromLinks() string {
	for _, link := range r.Links {
		if link.Rel != "up" {
			continue
		}
		const marker = "/captures/"
		if i := strings.LastIndex(link.Href, marker); i >= 0 {
			return strings.Trim(link.Href[i+len(marker):], "/")
		}
	}
	return ""
}
