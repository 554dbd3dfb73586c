// Package x402adapter wires the x402 HTTP-challenge-response protocol
// into the gate's adapter port, settling 402 Payment Required
// challenges automatically via pkg/x402.Client and an on-chain USDC
// wallet.
package x402adapter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/retry"
	"github.com/agentpay/firewall/internal/security"
	"github.com/agentpay/firewall/internal/wallet"
	"github.com/agentpay/firewall/pkg/x402"
)

// Name is the protocol identifier the gate routes on.
const Name = "x402"

// Adapter settles payments by dialing the recipient URL and letting
// pkg/x402.Client pay any 402 challenge it receives, up to the
// intent's amount.
type Adapter struct {
	wallet *wallet.Wallet
}

// New builds an x402 adapter backed by the given wallet.
func New(w *wallet.Wallet) *Adapter {
	return &Adapter{wallet: w}
}

func (a *Adapter) Name() string { return Name }

// CanHandle is informational only; the gate routes on Name alone.
func (a *Adapter) CanHandle(in intent.PaymentIntent) bool {
	return strings.HasPrefix(in.Recipient, "http://") || strings.HasPrefix(in.Recipient, "https://")
}

func (a *Adapter) Execute(ctx context.Context, in intent.PaymentIntent) (adapter.PaymentResult, error) {
	if err := security.ValidateEndpointURL(in.Recipient); err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("recipient endpoint rejected: %w", err)
	}

	client := x402.NewClient(a.wallet)
	client.MaxPayment = strconv.FormatFloat(in.Amount, 'f', -1, 64)

	var proof *x402.PaymentProof
	client.OnPayment = func(req *x402.PaymentRequirement, p *x402.PaymentProof) {
		proof = p
	}

	var resp *http.Response
	err := retry.Do(ctx, 3, 50*time.Millisecond, func() error {
		httpReq, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, in.Recipient, nil)
		if buildErr != nil {
			return retry.Permanent(fmt.Errorf("building request: %w", buildErr))
		}
		r, doErr := client.DoContext(ctx, httpReq)
		if doErr != nil {
			return doErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return adapter.PaymentResult{}, err
	}
	defer resp.Body.Close()

	result := adapter.PaymentResult{
		Protocol:  Name,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Recipient: in.Recipient,
		Timestamp: time.Now().UTC().UnixMilli(),
	}

	if resp.StatusCode >= 400 {
		result.Success = false
		result.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return result, nil
	}

	result.Success = true
	if proof != nil {
		result.TransactionID = proof.TxHash
	}
	return result, nil
}
