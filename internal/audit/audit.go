// Package audit records the decision trail of every gate.Pay
// call — firewall verdicts, policy verdicts, and execution outcomes —
// independent of and never consulted by the in-memory spend
// accounting the policy engine does. Persistence here is purely for
// operator review after the fact.
package audit

import (
	"context"
	"time"

	"github.com/agentpay/firewall/internal/intent"
)

// Outcome classifies how a pay() call ended.
type Outcome string

const (
	OutcomeFirewallBlocked Outcome = "firewall_blocked"
	OutcomePolicyBlocked   Outcome = "policy_blocked"
	OutcomeHumanRejected   Outcome = "human_rejected"
	OutcomeExecuted        Outcome = "executed"
	OutcomeExecutionFailed Outcome = "execution_failed"
)

// Entry is one row in the decision audit log.
type Entry struct {
	ID            string         `json:"id"`
	IntentID      string         `json:"intentId"`
	Recipient     string         `json:"recipient"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	Protocol      string         `json:"protocol"`
	Outcome       Outcome        `json:"outcome"`
	Layer         string         `json:"layer,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	EscrowID      string         `json:"escrowId,omitempty"`
	RecordedAt    time.Time      `json:"recordedAt"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
	ListByIntent(ctx context.Context, intentID string) ([]*Entry, error)
}

// FromVerdict builds an Entry from a verdict: a firewall, policy or
// human block, or an execution failure carried as the verdict reason.
func FromVerdict(in intent.PaymentIntent, v intent.Verdict, outcome Outcome) *Entry {
	return &Entry{
		IntentID:   in.ID,
		Recipient:  in.Recipient,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Protocol:   string(in.Protocol),
		Outcome:    outcome,
		Layer:      string(v.Layer),
		Reason:     v.Reason,
		RecordedAt: time.Now().UTC(),
	}
}

// FromExecution builds an Entry from a completed (successful or
// failed) adapter execution.
func FromExecution(in intent.PaymentIntent, txID, escrowID string, outcome Outcome, reason string) *Entry {
	return &Entry{
		IntentID:      in.ID,
		Recipient:     in.Recipient,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Protocol:      string(in.Protocol),
		Outcome:       outcome,
		Reason:        reason,
		TransactionID: txID,
		EscrowID:      escrowID,
		RecordedAt:    time.Now().UTC(),
	}
}
