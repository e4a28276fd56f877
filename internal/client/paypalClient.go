package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/config"
	"beatstore/internal/money"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type PaypalClient interface {
	FetchAccessToken(ctx context.Context) (string, error)
	CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error)
	CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (*CaptureResult, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

type LineItem struct {
	Name       string
	SKU        string
	UnitAmount int64 // cents
}

type RemoteOrderRequest struct {
	OrderID   string // local order id, sent as custom_id
	Currency  string
	ItemTotal int64
	Discount  int64
	Total     int64
	LineItems []LineItem
	ReturnURL string
	CancelURL string
}

type RemoteOrder struct {
	RemoteOrderID string
	ApprovalURL   string
}

// Capture statuses as reported by PayPal.
const (
	CaptureCompleted = "COMPLETED"
	CapturePending   = "PENDING"
	CaptureDeclined  = "DECLINED"
	CaptureFailed    = "FAILED"
)

type CaptureResult struct {
	CaptureID string
	Status    string
}

// Webhook transmission headers PayPal signs every delivery with.
const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
)

type paypalClientImpl struct {
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	baseApiURL  string
	webhookID   string
	brandName   string
	maxTries    uint
	backoff     func() backoff.BackOff
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	redis      *redis.Client
	maxTries   uint
	initial    time.Duration
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTokenCache shares the access token across replicas through Redis.
func WithTokenCache(rdb *redis.Client) Option {
	return func(o *options) { o.redis = rdb }
}

func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(o *options) {
		o.maxTries = maxTries
		o.initial = initialInterval
	}
}

func NewPaypalClient(paypalCfg config.Paypal, opts ...Option) PaypalClient {
	o := options{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxTries: 4,
		initial:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimRight(paypalCfg.BaseApiURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     paypalCfg.ClientID,
		ClientSecret: paypalCfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, o.httpClient)

	var ts oauth2.TokenSource = cc.TokenSource(tokenCtx)
	if o.redis != nil {
		ts = oauth2.ReuseTokenSource(nil, newRedisTokenSource(o.redis, paypalCfg.ClientID, ts))
	}

	initial := o.initial
	return &paypalClientImpl{
		httpClient:  o.httpClient,
		tokenSource: ts,
		baseApiURL:  baseURL,
		webhookID:   paypalCfg.WebhookID,
		brandName:   paypalCfg.BrandName,
		maxTries:    o.maxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

func (c *paypalClientImpl) FetchAccessToken(ctx context.Context) (string, error) {
	tok, err := c.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrGatewayAuth, err)
	}
	return tok.AccessToken, nil
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalBreakdown struct {
	ItemTotal paypalMoney  `json:"item_total"`
	Discount  *paypalMoney `json:"discount,omitempty"`
}

type paypalAmount struct {
	paypalMoney
	Breakdown paypalBreakdown `json:"breakdown"`
}

type paypalItem struct {
	Name       string      `json:"name"`
	SKU        string      `json:"sku,omitempty"`
	Quantity   string      `json:"quantity"`
	Category   string      `json:"category"`
	UnitAmount paypalMoney `json:"unit_amount"`
}

type purchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id"`
	InvoiceID   string       `json:"invoice_id"`
	Amount      paypalAmount `json:"amount"`
	Items       []paypalItem `json:"items"`
}

type applicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
}

type createOrderPayload struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type paypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type paypalOrderResult struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (c *paypalClientImpl) CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error) {
	amt := func(cents int64) paypalMoney {
		return paypalMoney{CurrencyCode: req.Currency, Value: money.Format(cents)}
	}

	items := make([]paypalItem, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = paypalItem{
			Name:       truncate(li.Name, 127),
			SKU:        truncate(li.SKU, 127),
			Quantity:   "1",
			Category:   "DIGITAL_GOODS",
			UnitAmount: amt(li.UnitAmount),
		}
	}

	unit := purchaseUnit{
		ReferenceID: req.OrderID,
		CustomID:    req.OrderID,
		InvoiceID:   req.OrderID,
		Amount: paypalAmount{
			paypalMoney: amt(req.Total),
			Breakdown:   paypalBreakdown{ItemTotal: amt(req.ItemTotal)},
		},
		Items: items,
	}
	if req.Discount > 0 {
		d := amt(req.Discount)
		unit.Amount.Breakdown.Discount = &d
	}

	payload := createOrderPayload{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{unit},
		ApplicationContext: applicationContext{
			BrandName:          c.brandName,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.CancelURL,
		},
	}

	var result paypalOrderResult
	headers := map[string]string{"PayPal-Request-Id": "create-" + req.OrderID}
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, headers, &result); err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}

	approveURL := extractApproveURL(result.Links)
	if result.ID == "" || approveURL == "" {
		return nil, fmt.Errorf("%w: create order response missing id or approval link", apperr.ErrGatewayOrder)
	}

	return &RemoteOrder{
		RemoteOrderID: result.ID,
		ApprovalURL:   approveURL,
	}, nil
}

func (c *paypalClientImpl) CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (*CaptureResult, error) {
	// A stable request id lets PayPal dedupe retried captures, including
	// ones sent by another replica.
	requestID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("paypal-capture:"+remoteOrderID)).String()

	var result paypalOrderResult
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", remoteOrderID)
	err := c.do(ctx, http.MethodPost, path, struct{}{}, map[string]string{"PayPal-Request-Id": requestID}, &result)

	var perr *paypalError
	if errors.As(err, &perr) && perr.hasIssue("ORDER_ALREADY_CAPTURED") {
		result = paypalOrderResult{}
		err = c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+remoteOrderID, nil, nil, &result)
	}
	if err != nil {
		return nil, fmt.Errorf("paypal capture order: %w", err)
	}

	for _, pu := range result.PurchaseUnits {
		for _, capture := range pu.Payments.Captures {
			if capture.ID != "" {
				return &CaptureResult{CaptureID: capture.ID, Status: capture.Status}, nil
			}
		}
	}

	return &CaptureResult{Status: result.Status}, nil
}

func (c *paypalClientImpl) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	payload := map[string]any{
		"auth_algo":         headers.Get(HeaderAuthAlgo),
		"cert_url":          headers.Get(HeaderCertURL),
		"transmission_id":   headers.Get(HeaderTransmissionID),
		"transmission_sig":  headers.Get(HeaderTransmissionSig),
		"transmission_time": headers.Get(HeaderTransmissionTime),
		"webhook_id":        c.webhookID,
	}
	for k, v := range payload {
		if v == "" && k != "webhook_id" {
			return fmt.Errorf("%w: missing %s", apperr.ErrSignatureVerificationFailed, k)
		}
	}
	if c.webhookID == "" {
		return errors.New("paypal webhook id is not configured")
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: body is not json", apperr.ErrSignatureVerificationFailed)
	}
	payload["webhook_event"] = json.RawMessage(body)

	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, nil, &res); err != nil {
		var perr *paypalError
		if errors.As(err, &perr) && perr.status == http.StatusBadRequest {
			return fmt.Errorf("%w: %v", apperr.ErrSignatureVerificationFailed, err)
		}
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	if res.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: status %q", apperr.ErrSignatureVerificationFailed, res.VerificationStatus)
	}
	return nil
}

type paypalError struct {
	status  int
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
	body string
}

func (e *paypalError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("paypal error %d %s: %s", e.status, e.Name, e.Message)
	}
	return fmt.Sprintf("paypal error %d: %s", e.status, e.body)
}

func (e *paypalError) Unwrap() error { return apperr.ErrGatewayOrder }

func (e *paypalError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func (c *paypalClientImpl) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		payload = b
	}

	var lastErr *paypalError
	op := func() (struct{}, error) {
		accessToken, err := c.FetchAccessToken(ctx)
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("http new request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, fmt.Errorf("%w: %v", apperr.ErrGatewayOrder, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: read body: %v", apperr.ErrGatewayOrder, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			perr := &paypalError{status: resp.StatusCode, body: string(respBody)}
			_ = json.Unmarshal(respBody, perr)
			lastErr = perr

			if resp.StatusCode == http.StatusTooManyRequests {
				if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
					return struct{}{}, backoff.RetryAfter(secs)
				}
				return struct{}{}, perr
			}
			if resp.StatusCode >= 500 {
				return struct{}{}, perr
			}
			return struct{}{}, backoff.Permanent(perr)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: decode paypal response: %v", apperr.ErrGatewayOrder, err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
	)
	var rerr *backoff.RetryAfterError
	if errors.As(err, &rerr) && lastErr != nil {
		return lastErr
	}
	return err
}

func extractApproveURL(links []paypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
