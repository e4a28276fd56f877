package handler

import (
	"fmt"
	"html"
	"io"
	"net/http"

	"beatstore/internal/model"
	"beatstore/internal/service"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody bounds what PayPal may post to the webhook endpoint.
const maxWebhookBody = 1 << 20

type PaypalHandler struct {
	orderService   service.OrderService
	webhookService service.WebhookService
}

func NewPaypalHandler(orderService service.OrderService, webhookService service.WebhookService) *PaypalHandler {
	return &PaypalHandler{
		orderService:   orderService,
		webhookService: webhookService,
	}
}

// HandleSuccess is the approval return URL. PayPal appends the gateway order
// id as ?token=.
func (h *PaypalHandler) HandleSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	gatewayOrderID := c.QueryParam("token")
	if gatewayOrderID == "" {
		return c.String(http.StatusBadRequest, "missing order token")
	}

	order, err := h.orderService.CaptureApproved(ctx, gatewayOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case model.OrderCompleted:
		return c.HTML(http.StatusOK, resultPage("Payment complete",
			"Your license documents are being prepared. Download links are available for order "+order.ID+"."))
	case model.OrderPending:
		return c.HTML(http.StatusOK, resultPage("Payment processing",
			"PayPal is still processing your payment. We will complete order "+order.ID+" as soon as it clears."))
	default:
		return c.HTML(http.StatusOK, resultPage("Payment not completed",
			"Order "+order.ID+" was "+string(order.Status)+". You have not been charged."))
	}
}

// HandleCancel is the cancel URL shown when the buyer leaves PayPal.
func (h *PaypalHandler) HandleCancel(c echo.Context) error {
	ctx := c.Request().Context()

	gatewayOrderID := c.QueryParam("token")
	if gatewayOrderID == "" {
		return c.String(http.StatusBadRequest, "missing order token")
	}

	order, err := h.orderService.CancelByGatewayOrder(ctx, gatewayOrderID)
	if err != nil {
		return err
	}

	return c.HTML(http.StatusOK, resultPage("Payment cancelled",
		"Order "+order.ID+" was cancelled. You have not been charged."))
}

func (h *PaypalHandler) PayPalWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.webhookService.Handle(ctx, c.Request().Header, body)
	if err != nil {
		return fmt.Errorf("handle webhook: %w", err)
	}

	return c.NoContent(http.StatusOK)
}

func resultPage(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>%[1]s</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			text-align: center;
			margin-top: 80px;
		}
	</style>
</head>
<body>
	<h2>%[1]s</h2>
	<p>%[2]s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
}
