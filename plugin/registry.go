package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onReceiptCreated     []OnReceiptCreated
	onReceiptSettled     []OnReceiptSettled
	onReceiptDeleted     []OnReceiptDeleted
	onParticipantAdded   []OnParticipantAdded
	onParticipantRemoved []OnParticipantRemoved
	onItemClaimed        []OnItemClaimed
	onItemUnclaimed      []OnItemUnclaimed
	onPaymentInitiated   []OnPaymentInitiated
	onPaymentConfirmed   []OnPaymentConfirmed
	onPaymentFailed      []OnPaymentFailed
	onWebhookReceived    []OnWebhookReceived
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnReceiptCreated); ok {
		r.onReceiptCreated = append(r.onReceiptCreated, v)
	}
	if v, ok := p.(OnReceiptSettled); ok {
		r.onReceiptSettled = append(r.onReceiptSettled, v)
	}
	if v, ok := p.(OnReceiptDeleted); ok {
		r.onReceiptDeleted = append(r.onReceiptDeleted, v)
	}
	if v, ok := p.(OnParticipantAdded); ok {
		r.onParticipantAdded = append(r.onParticipantAdded, v)
	}
	if v, ok := p.(OnParticipantRemoved); ok {
		r.onParticipantRemoved = append(r.onParticipantRemoved, v)
	}
	if v, ok := p.(OnItemClaimed); ok {
		r.onItemClaimed = append(r.onItemClaimed, v)
	}
	if v, ok := p.(OnItemUnclaimed); ok {
		r.onItemUnclaimed = append(r.onItemUnclaimed, v)
	}
	if v, ok := p.(OnPaymentInitiated); ok {
		r.onPaymentInitiated = append(r.onPaymentInitiated, v)
	}
	if v, ok := p.(OnPaymentConfirmed); ok {
		r.onPaymentConfirmed = append(r.onPaymentConfirmed, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnReceiptCreated)(nil)).Elem(), "OnReceiptCreated")
	checkInterface(reflect.TypeOf((*OnReceiptSettled)(nil)).Elem(), "OnReceiptSettled")
	checkInterface(reflect.TypeOf((*OnReceiptDeleted)(nil)).Elem(), "OnReceiptDeleted")
	checkInterface(reflect.TypeOf((*OnItemClaimed)(nil)).Elem(), "OnItemClaimed")
	checkInterface(reflect.TypeOf((*OnItemUnclaimed)(nil)).Elem(), "OnItemUnclaimed")
	checkInterface(reflect.TypeOf((*OnPaymentInitiated)(nil)).Elem(), "OnPaymentInitiated")
	checkInterface(reflect.TypeOf((*OnPaymentConfirmed)(nil)).Elem(), "OnPaymentConfirmed")
	checkInterface(reflect.TypeOf((*OnPaymentFailed)(nil)).Elem(), "OnPaymentFailed")
	checkInterface(reflect.TypeOf((*OnWebhookReceived)(nil)).Elem(), "OnWebhookReceived")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReceiptCreated calls OnReceiptCreated for all plugins that implement it.
func (r *Registry) EmitReceiptCreated(ctx context.Context, rec interface{}) {
	r.mu.RLock()
	plugins := r.onReceiptCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptCreated(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReceiptSettled calls OnReceiptSettled for all plugins that implement it.
func (r *Registry) EmitReceiptSettled(ctx context.Context, rec interface{}) {
	r.mu.RLock()
	plugins := r.onReceiptSettled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptSettled(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptSettled failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReceiptDeleted calls OnReceiptDeleted for all plugins that implement it.
func (r *Registry) EmitReceiptDeleted(ctx context.Context, receiptID string, forced bool) {
	r.mu.RLock()
	plugins := r.onReceiptDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptDeleted(ctx, receiptID, forced)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptDeleted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitParticipantAdded calls OnParticipantAdded for all plugins that implement it.
func (r *Registry) EmitParticipantAdded(ctx context.Context, receiptID, userID string) {
	r.mu.RLock()
	plugins := r.onParticipantAdded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnParticipantAdded(ctx, receiptID, userID)
		}); err != nil {
			r.logger.Warn("plugin OnParticipantAdded failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitParticipantRemoved calls OnParticipantRemoved for all plugins that implement it.
func (r *Registry) EmitParticipantRemoved(ctx context.Context, receiptID, userID string) {
	r.mu.RLock()
	plugins := r.onParticipantRemoved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnParticipantRemoved(ctx, receiptID, userID)
		}); err != nil {
			r.logger.Warn("plugin OnParticipantRemoved failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitItemClaimed calls OnItemClaimed for all plugins that implement it.
func (r *Registry) EmitItemClaimed(ctx context.Context, receiptID, itemID, userID string) {
	r.mu.RLock()
	plugins := r.onItemClaimed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnItemClaimed(ctx, receiptID, itemID, userID)
		}); err != nil {
			r.logger.Warn("plugin OnItemClaimed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitItemUnclaimed calls OnItemUnclaimed for all plugins that implement it.
func (r *Registry) EmitItemUnclaimed(ctx context.Context, receiptID, itemID, userID string) {
	r.mu.RLock()
	plugins := r.onItemUnclaimed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnItemUnclaimed(ctx, receiptID, itemID, userID)
		}); err != nil {
			r.logger.Warn("plugin OnItemUnclaimed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPaymentInitiated calls OnPaymentInitiated for all plugins that implement it.
func (r *Registry) EmitPaymentInitiated(ctx context.Context, pay interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentInitiated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentInitiated(ctx, pay)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentInitiated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPaymentConfirmed calls OnPaymentConfirmed for all plugins that implement it.
func (r *Registry) EmitPaymentConfirmed(ctx context.Context, pay interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentConfirmed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentConfirmed(ctx, pay)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentConfirmed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPaymentFailed calls OnPaymentFailed for all plugins that implement it.
func (r *Registry) EmitPaymentFailed(ctx context.Context, pay interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onPaymentFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentFailed(ctx, pay, reason)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentFailed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitWebhookReceived calls OnWebhookReceived for all plugins that implement it.
func (r *Registry) EmitWebhookReceived(ctx context.Context, providerRef string, payload []byte) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookReceived(ctx, providerRef, payload)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookReceived failed", "plugin", p.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the settlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
