// Package testutil carries shared fixtures for package tests.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/client"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite database in the test's temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := client.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, client.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// FakeGateway stands in for PayPal. NewFakeGateway approves everything.
type FakeGateway struct {
	mu sync.Mutex

	CreateErr      error
	CaptureErr     error
	CaptureResult  *client.CaptureResult
	SignatureValid bool
	VerifyErr      error

	Created  []client.RemoteOrderRequest
	Captured []string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{SignatureValid: true}
}

func (g *FakeGateway) FetchAccessToken(ctx context.Context) (string, error) {
	return "fake-token", nil
}

func (g *FakeGateway) CreateRemoteOrder(ctx context.Context, req client.RemoteOrderRequest) (*client.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Created = append(g.Created, req)
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	remoteID := "PP-" + req.OrderID
	return &client.RemoteOrder{
		RemoteOrderID: remoteID,
		ApprovalURL:   "https://www.sandbox.paypal.com/checkoutnow?token=" + remoteID,
	}, nil
}

func (g *FakeGateway) CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (*client.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Captured = append(g.Captured, remoteOrderID)
	if g.CaptureErr != nil {
		return nil, g.CaptureErr
	}
	if g.CaptureResult != nil {
		res := *g.CaptureResult
		return &res, nil
	}
	return &client.CaptureResult{CaptureID: "CAP-" + remoteOrderID, Status: client.CaptureCompleted}, nil
}

func (g *FakeGateway) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.VerifyErr != nil {
		return g.VerifyErr
	}
	if !g.SignatureValid {
		return errors.Join(apperr.ErrSignatureVerificationFailed, errors.New("status FAILURE"))
	}
	return nil
}

func (g *FakeGateway) SetSignatureValid(valid bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SignatureValid = valid
}

func (g *FakeGateway) CreatedOrders() []client.RemoteOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]client.RemoteOrderRequest(nil), g.Created...)
}

func (g *FakeGateway) CapturedOrders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Captured...)
}
