package service

import (
	"context"
	"log/slog"
	"net/http"

	"beatstore/internal/client"
)

// Gateway is the slice of the PayPal client the order pipeline drives.
type Gateway interface {
	CreateRemoteOrder(ctx context.Context, req client.RemoteOrderRequest) (*client.RemoteOrder, error)
	CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (*client.CaptureResult, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

// EntitlementDispatcher starts license generation for a freshly completed
// order without blocking the caller.
type EntitlementDispatcher interface {
	Dispatch(orderID string)
}

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// compensations is a LIFO stack of undo steps for a multi-step operation.
type compensations []compensation

func (c *compensations) push(name string, undo func(ctx context.Context) error) {
	*c = append(*c, compensation{name: name, undo: undo})
}

// rollback runs every undo step newest first. It is detached from ctx
// cancellation so a dropped client cannot leave a discount slot consumed.
func (c compensations) rollback(ctx context.Context, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for i := len(c) - 1; i >= 0; i-- {
		step := c[i]
		log.Info("compensating step", "step", step.name)
		if err := step.undo(ctx); err != nil {
			log.Error("compensation failed", "step", step.name, "error", err)
		}
	}
}
