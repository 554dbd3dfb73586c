package approval

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/agentpay/firewall/internal/intent"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestCallbackBlocksUntilDecided(t *testing.T) {
	h := testHub()
	in := intent.PaymentIntent{ID: "pay_1", Recipient: "https://vendor.example/pay", Amount: 80}

	type outcome struct {
		approved bool
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		approved, err := h.Callback(context.Background(), in)
		done <- outcome{approved, err}
	}()

	var id string
	for i := 0; i < 100 && id == ""; i++ {
		pending := h.Pending()
		if len(pending) == 1 {
			id = pending[0].ID
		}
		time.Sleep(time.Millisecond)
	}
	if id == "" {
		t.Fatal("expected exactly one pending approval request")
	}

	if err := h.Decide(id, true); err != nil {
		t.Fatalf("unexpected error deciding: %v", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("unexpected error: %v", out.err)
		}
		if !out.approved {
			t.Fatal("expected approved=true")
		}
	case <-time.After(time.Second):
		t.Fatal("callback did not return after decision")
	}

	if len(h.Pending()) != 0 {
		t.Fatal("expected pending list to be empty after decision")
	}
}

func TestCallbackRejection(t *testing.T) {
	h := testHub()
	in := intent.PaymentIntent{ID: "pay_2", Recipient: "https://vendor.example/pay", Amount: 80}

	done := make(chan bool, 1)
	go func() {
		approved, _ := h.Callback(context.Background(), in)
		done <- approved
	}()

	var id string
	for i := 0; i < 100 && id == ""; i++ {
		pending := h.Pending()
		if len(pending) == 1 {
			id = pending[0].ID
		}
		time.Sleep(time.Millisecond)
	}
	if id == "" {
		t.Fatal("expected a pending approval request")
	}

	if err := h.Decide(id, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case approved := <-done:
		if approved {
			t.Fatal("expected approved=false")
		}
	case <-time.After(time.Second):
		t.Fatal("callback did not return after rejection")
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	h := testHub()
	if err := h.Decide("nope", true); err != ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestCallbackCanceledByContext(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	in := intent.PaymentIntent{ID: "pay_3", Recipient: "https://vendor.example/pay", Amount: 10}

	done := make(chan error, 1)
	go func() {
		_, err := h.Callback(ctx, in)
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("callback did not return after context cancellation")
	}
}

func TestBroadcastDoesNotBlockWithoutClients(t *testing.T) {
	h := testHub()
	for i := 0; i < 300; i++ {
		h.Broadcast(&Event{Type: EventRequested, Timestamp: time.Now()})
	}
}
