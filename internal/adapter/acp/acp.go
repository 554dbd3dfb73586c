// Package acpadapter settles merchant-shaped recipients (the ACP
// protocol: merchant:/shop:/store: addressing) through a Stripe
// PaymentIntent, confirmed immediately with a payment method the
// caller already attached to the intent's metadata.
package acpadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/intent"
)

// Name is the protocol identifier the gate routes on.
const Name = "acp"

// Adapter settles payments against a merchant's Stripe account.
type Adapter struct{}

// New configures the Stripe API key used by every Execute call. Stripe's
// client is a package-level global, so constructing more than one
// Adapter with different keys is not supported.
func New(apiKey string) *Adapter {
	stripe.Key = apiKey
	return &Adapter{}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CanHandle(in intent.PaymentIntent) bool {
	lower := strings.ToLower(in.Recipient)
	return strings.HasPrefix(lower, "merchant:") || strings.HasPrefix(lower, "shop:") || strings.HasPrefix(lower, "store:") ||
		strings.HasSuffix(lower, ".merchant") || strings.HasSuffix(lower, ".shop")
}

func (a *Adapter) Execute(ctx context.Context, in intent.PaymentIntent) (adapter.PaymentResult, error) {
	paymentMethod, _ := in.Metadata["paymentMethodId"].(string)
	if paymentMethod == "" {
		return adapter.PaymentResult{}, fmt.Errorf("acp: intent metadata is missing paymentMethodId")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toCents(in.Amount)),
		Currency:      stripe.String(strings.ToLower(in.Currency)),
		PaymentMethod: stripe.String(paymentMethod),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(in.Purpose),
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("stripe payment intent: %w", err)
	}

	result := adapter.PaymentResult{
		Protocol:      Name,
		TransactionID: pi.ID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Recipient:     in.Recipient,
		Timestamp:     pi.Created * 1000,
	}
	result.Success = pi.Status == stripe.PaymentIntentStatusSucceeded
	if !result.Success {
		result.Error = string(pi.Status)
	}
	return result, nil
}

func toCents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
