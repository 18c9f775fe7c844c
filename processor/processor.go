// Package processor abstracts the external payment processor. The engine
// creates intents through a Provider and consumes confirmation Events
// delivered by webhook, tolerating duplicate and out-of-order delivery.
package processor

import (
	"context"
	"strconv"

	"github.com/billsplit/settle/types"
)

// Intent is the processor-side handle for a payment in flight.
type Intent struct {
	// ProviderRef identifies the intent at the processor and in
	// webhook deliveries.
	ProviderRef string

	// ClientSecret is handed to the paying client to complete the
	// charge. Never persisted.
	ClientSecret string
}

// EventStatus is the outcome carried by a webhook delivery.
type EventStatus string

const (
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
)

// Event is a processor webhook delivery. The same event may arrive
// zero, one or many times.
type Event struct {
	ProviderRef string      `json:"provider_ref"`
	Status      EventStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
}

// Provider creates payment intents with the external processor.
type Provider interface {
	CreateIntent(ctx context.Context, amount types.Money) (*Intent, error)
}

// Fake is an in-process Provider for tests and local development. It
// hands out sequential refs and records created intents.
type Fake struct {
	Err     error
	created []types.Money
	seq     int
}

func (f *Fake) CreateIntent(_ context.Context, amount types.Money) (*Intent, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.seq++
	f.created = append(f.created, amount)
	ref := "pi_fake_" + strconv.Itoa(f.seq)
	return &Intent{
		ProviderRef:  ref,
		ClientSecret: ref + "_secret",
	}, nil
}

// Created returns the amounts of all intents created so far.
func (f *Fake) Created() []types.Money { return f.created }
