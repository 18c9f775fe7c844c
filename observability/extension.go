// Package observability provides a metrics extension for Settle that
// records lifecycle event counts through a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnReceiptCreated     = (*MetricsExtension)(nil)
	_ plugin.OnReceiptSettled     = (*MetricsExtension)(nil)
	_ plugin.OnReceiptDeleted     = (*MetricsExtension)(nil)
	_ plugin.OnParticipantAdded   = (*MetricsExtension)(nil)
	_ plugin.OnParticipantRemoved = (*MetricsExtension)(nil)
	_ plugin.OnItemClaimed        = (*MetricsExtension)(nil)
	_ plugin.OnItemUnclaimed      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentInitiated   = (*MetricsExtension)(nil)
	_ plugin.OnPaymentConfirmed   = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Settle plugin to automatically track settlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Receipt metrics
	ReceiptCreated Counter
	ReceiptSettled Counter
	ReceiptDeleted Counter

	// Participant metrics
	ParticipantAdded   Counter
	ParticipantRemoved Counter

	// Claim metrics
	ItemsClaimed   Counter
	ItemsUnclaimed Counter

	// Payment metrics
	PaymentsInitiated Counter
	PaymentsConfirmed Counter
	PaymentsFailed    Counter
	PaymentAmount     Histogram

	// Processor metrics
	WebhooksReceived Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ReceiptCreated: factory.Counter("settle.receipt.created"),
		ReceiptSettled: factory.Counter("settle.receipt.settled"),
		ReceiptDeleted: factory.Counter("settle.receipt.deleted"),

		ParticipantAdded:   factory.Counter("settle.participant.added"),
		ParticipantRemoved: factory.Counter("settle.participant.removed"),

		ItemsClaimed:   factory.Counter("settle.item.claimed"),
		ItemsUnclaimed: factory.Counter("settle.item.unclaimed"),

		PaymentsInitiated: factory.Counter("settle.payment.initiated"),
		PaymentsConfirmed: factory.Counter("settle.payment.confirmed"),
		PaymentsFailed:    factory.Counter("settle.payment.failed"),
		PaymentAmount:     factory.Histogram("settle.payment.amount_minor_units"),

		WebhooksReceived: factory.Counter("settle.webhook.received"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Receipt lifecycle hooks
// ──────────────────────────────────────────────────

// OnReceiptCreated implements plugin.OnReceiptCreated.
func (m *MetricsExtension) OnReceiptCreated(_ context.Context, _ interface{}) error {
	m.ReceiptCreated.Inc()
	return nil
}

// OnReceiptSettled implements plugin.OnReceiptSettled.
func (m *MetricsExtension) OnReceiptSettled(_ context.Context, _ interface{}) error {
	m.ReceiptSettled.Inc()
	return nil
}

// OnReceiptDeleted implements plugin.OnReceiptDeleted.
func (m *MetricsExtension) OnReceiptDeleted(_ context.Context, _ string, _ bool) error {
	m.ReceiptDeleted.Inc()
	return nil
}

// OnParticipantAdded implements plugin.OnParticipantAdded.
func (m *MetricsExtension) OnParticipantAdded(_ context.Context, _, _ string) error {
	m.ParticipantAdded.Inc()
	return nil
}

// OnParticipantRemoved implements plugin.OnParticipantRemoved.
func (m *MetricsExtension) OnParticipantRemoved(_ context.Context, _, _ string) error {
	m.ParticipantRemoved.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Claim hooks
// ──────────────────────────────────────────────────

// OnItemClaimed implements plugin.OnItemClaimed.
func (m *MetricsExtension) OnItemClaimed(_ context.Context, _, _, _ string) error {
	m.ItemsClaimed.Inc()
	return nil
}

// OnItemUnclaimed implements plugin.OnItemUnclaimed.
func (m *MetricsExtension) OnItemUnclaimed(_ context.Context, _, _, _ string) error {
	m.ItemsUnclaimed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated implements plugin.OnPaymentInitiated.
func (m *MetricsExtension) OnPaymentInitiated(_ context.Context, p interface{}) error {
	m.PaymentsInitiated.Inc()
	if pp, ok := p.(*payment.Payment); ok {
		m.PaymentAmount.Observe(float64(pp.Amount.Amount))
	}
	return nil
}

// OnPaymentConfirmed implements plugin.OnPaymentConfirmed.
func (m *MetricsExtension) OnPaymentConfirmed(_ context.Context, _ interface{}) error {
	m.PaymentsConfirmed.Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ interface{}, _ string) error {
	m.PaymentsFailed.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ string, _ []byte) error {
	m.WebhooksReceived.Inc()
	return nil
}
