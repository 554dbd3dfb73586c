// Package intent holds the shared data model that flows through the
// firewall pipeline: the payment request itself, its optional escrow
// terms, the policy bounds it is checked against, and the verdict
// shape every layer (classifier, policy, drift, human) returns.
//
// Keeping these types in one leaf package (rather than on firewall,
// policy, or gate) is what lets classifier/drift/policy/gate import
// each other's inputs without a cycle.
package intent

// Protocol is one of the closed set of settlement protocols the gate
// can route to.
type Protocol string

const (
	ProtocolX402   Protocol = "x402"
	ProtocolAP2    Protocol = "ap2"
	ProtocolACP    Protocol = "acp"
	ProtocolEscrow Protocol = "escrow"
)

// Milestone is one step of a staged escrow release.
type Milestone struct {
	Description string
	Amount      float64
	Deadline    string
}

// EscrowConfig carries the terms of an escrowed payment. Its mere
// presence on a PaymentIntent is consulted by both the policy engine
// (escrow-above threshold) and protocol detection (escrow inference).
type EscrowConfig struct {
	Deadline   string
	Evaluator  string // address, the literal "auto", or "" if unset
	Milestones []Milestone
}

// PaymentIntent is a uniquely-identified request to pay. Once created
// it is mutated only to fill a detected Protocol; no other layer edits
// it.
type PaymentIntent struct {
	ID        string
	Recipient string
	Amount    float64
	Currency  string
	Purpose   string
	Protocol  Protocol // "" if not yet determined
	Escrow    *EscrowConfig
	Metadata  map[string]any
	CreatedAt int64 // epoch milliseconds
}

// PolicyConfig bounds what the policy engine enforces. Every field is
// optional; a nil/empty value disables that particular check.
type PolicyConfig struct {
	MaxPerTransaction         *float64
	MaxDaily                  *float64
	MaxMonthly                *float64
	RequireEscrowAbove        *float64
	RequireHumanApprovalAbove *float64
	CooldownMs                *int64

	AllowedRecipients []string
	BlockedRecipients []string
	AllowedCategories []string
}

// Layer identifies which pipeline stage produced a verdict.
type Layer string

const (
	LayerClassifier Layer = "classifier"
	LayerPolicy     Layer = "policy"
	LayerIntentDiff Layer = "intent-diff"
	LayerHuman      Layer = "human"
)

// Verdict is the result every gate/firewall/policy decision reduces
// to.
type Verdict struct {
	Allowed    bool
	Layer      Layer
	Reason     string
	Confidence *float64
	Details    map[string]any
}
