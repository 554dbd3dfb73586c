// Package escrowadapter routes escrow-protocol payment intents into
// the buyer-protection escrow service, locking funds on creation
// rather than settling immediately. Confirm, dispute, and auto-release
// happen later through the escrow service directly, outside the gate's
// pay() path.
package escrowadapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/escrow"
	"github.com/agentpay/firewall/internal/intent"
)

// Name is the protocol identifier the gate routes on.
const Name = "escrow"

// Adapter creates an escrow and locks the buyer's funds; it never
// releases or refunds, since that is a later, out-of-band decision.
type Adapter struct {
	service   *escrow.Service
	buyerAddr string
}

// New builds an escrow adapter. buyerAddr identifies the funds source
// on every escrow this adapter creates; the gate has no per-intent
// notion of "who is paying", only who is being paid.
func New(service *escrow.Service, buyerAddr string) *Adapter {
	return &Adapter{service: service, buyerAddr: buyerAddr}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CanHandle(in intent.PaymentIntent) bool {
	return in.Escrow != nil
}

func (a *Adapter) Execute(ctx context.Context, in intent.PaymentIntent) (adapter.PaymentResult, error) {
	req := escrow.CreateRequest{
		BuyerAddr:  a.buyerAddr,
		SellerAddr: in.Recipient,
		Amount:     strconv.FormatFloat(in.Amount, 'f', -1, 64),
		ServiceID:  in.ID,
	}

	if in.Escrow != nil && in.Escrow.Deadline != "" {
		if deadline, err := time.Parse(time.RFC3339, in.Escrow.Deadline); err == nil {
			if d := time.Until(deadline); d > 0 {
				req.AutoRelease = d.String()
			}
		}
	}

	created, err := a.service.Create(ctx, req)
	if err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("creating escrow: %w", err)
	}

	return adapter.PaymentResult{
		Success:   true,
		Protocol:  Name,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Recipient: in.Recipient,
		Timestamp: created.CreatedAt.UnixMilli(),
		EscrowID:  created.ID,
	}, nil
}
