// Package metrics exposes the pipeline counters scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "orders_created_total",
		Help:      "Orders persisted and handed off to the payment gateway.",
	})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "order_transitions_total",
		Help:      "Order status transitions won, by target status.",
	}, []string{"status"})

	DiscountConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "discount_consumptions_total",
		Help:      "Discount slot consume attempts, by outcome.",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	LicenseDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "license_documents_total",
		Help:      "License documents generated, by source and outcome.",
	}, []string{"source", "outcome"})

	DownloadsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beatstore",
		Name:      "download_links_issued_total",
		Help:      "Signed download links handed out.",
	})
)
