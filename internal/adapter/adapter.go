// Package adapter defines the settlement adapter port (C7): the
// interface every payment backend (x402, escrow, acp, ap2, ...) must
// implement, plus the ordered registry the gate resolves adapters
// from by name.
package adapter

import (
	"context"
	"strings"

	"github.com/agentpay/firewall/internal/intent"
)

// PaymentResult is what every adapter's Execute call returns.
type PaymentResult struct {
	Success       bool
	TransactionID string
	Protocol      string
	Amount        float64
	Currency      string
	Recipient     string
	Timestamp     int64
	EscrowID      string
	Error         string
}

// Port is the settlement backend interface. CanHandle is informational
// for consumers; per spec the gate routes on Name alone and never
// consults CanHandle, so implementations should keep it cheap and
// side-effect-free.
type Port interface {
	Name() string
	CanHandle(in intent.PaymentIntent) bool
	Execute(ctx context.Context, in intent.PaymentIntent) (PaymentResult, error)
}

// Registry is an ordered list of adapters. Lookup is deterministic:
// the first adapter whose lowercased name equals the resolved
// protocol wins; registration order only matters when two adapters
// share a name.
type Registry struct {
	adapters []Port
}

// NewRegistry builds a registry from an initial adapter list, in
// registration order.
func NewRegistry(initial ...Port) *Registry {
	r := &Registry{}
	for _, a := range initial {
		r.Register(a)
	}
	return r
}

// Register appends an adapter to the registry.
func (r *Registry) Register(a Port) {
	r.adapters = append(r.adapters, a)
}

// Resolve returns the first registered adapter whose name
// case-insensitively equals protocol, or nil if none match.
func (r *Registry) Resolve(protocol string) Port {
	for _, a := range r.adapters {
		if strings.EqualFold(a.Name(), protocol) {
			return a
		}
	}
	return nil
}
