package plugin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type testPlugin struct {
	name      string
	claims    atomic.Int64
	confirms  atomic.Int64
	failErr   error
	lastRef   string
	lastForce bool
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) OnItemClaimed(_ context.Context, receiptID, itemID, userID string) error {
	p.claims.Add(1)
	return p.failErr
}

func (p *testPlugin) OnPaymentConfirmed(_ context.Context, _ interface{}) error {
	p.confirms.Add(1)
	return nil
}

func (p *testPlugin) OnReceiptDeleted(_ context.Context, receiptID string, forced bool) error {
	p.lastRef = receiptID
	p.lastForce = forced
	return nil
}

type namedOnly struct{ name string }

func (p *namedOnly) Name() string { return p.name }

func TestRegisterAndDispatch(t *testing.T) {
	r := NewRegistry()
	p := &testPlugin{name: "audit"}

	if err := r.Register(p); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d, want 1", r.Count())
	}

	ctx := context.Background()
	r.EmitItemClaimed(ctx, "rcpt_1", "item_1", "alice")
	r.EmitItemClaimed(ctx, "rcpt_1", "item_2", "bob")
	if got := p.claims.Load(); got != 2 {
		t.Errorf("claim hooks: got %d, want 2", got)
	}

	r.EmitPaymentConfirmed(ctx, nil)
	if got := p.confirms.Load(); got != 1 {
		t.Errorf("confirm hooks: got %d, want 1", got)
	}

	r.EmitReceiptDeleted(ctx, "rcpt_1", true)
	if p.lastRef != "rcpt_1" || !p.lastForce {
		t.Errorf("delete hook args: ref %q forced %v", p.lastRef, p.lastForce)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedOnly{name: "x"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&namedOnly{name: "x"}); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestHookErrorDoesNotPropagate(t *testing.T) {
	r := NewRegistry()
	p := &testPlugin{name: "flaky", failErr: errors.New("boom")}
	if err := r.Register(p); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Emission swallows plugin errors; the pipeline must not observe them.
	r.EmitItemClaimed(context.Background(), "rcpt_1", "item_1", "alice")
	if got := p.claims.Load(); got != 1 {
		t.Errorf("hook calls: got %d, want 1", got)
	}
}

func TestGetAndList(t *testing.T) {
	r := NewRegistry()
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown plugin")
	}
	if err := r.Register(&namedOnly{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&namedOnly{name: "b"}); err != nil {
		t.Fatal(err)
	}
	if got := r.Get("a"); got == nil || got.Name() != "a" {
		t.Errorf("get: got %v", got)
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("list length: got %d, want 2", got)
	}
}
