// Package gate implements the gate orchestrator (C6): the hot path
// that wires the firewall, the policy engine, human approval, protocol
// detection, and adapter routing into the two public operations an
// agent actually calls, pay() and check().
package gate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/firewall"
	"github.com/agentpay/firewall/internal/idgen"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/logging"
	"github.com/agentpay/firewall/internal/metrics"
	"github.com/agentpay/firewall/internal/policy"
	"github.com/agentpay/firewall/internal/syncutil"
	"github.com/agentpay/firewall/internal/traces"
)

// ApprovalCallback renders a human decision for an intent that
// requires approval. Returning (false, nil) means the human rejected
// the payment; a non-nil error is treated the same as a rejection,
// with the error recorded in the block reason.
type ApprovalCallback func(ctx context.Context, in intent.PaymentIntent) (bool, error)

// Request is what a caller asks the gate to pay or check. Protocol is
// optional; when empty the gate derives it from Recipient/Escrow.
type Request struct {
	Recipient string
	Amount    float64
	Currency  string
	Purpose   string
	Protocol  intent.Protocol
	Escrow    *intent.EscrowConfig
	Metadata  map[string]any
}

// Config configures a Gate.
type Config struct {
	// WalletDescriptor is opaque to the gate; it is never inspected
	// here, only made available for the caller to forward into adapter
	// construction.
	WalletDescriptor any

	Policy   intent.PolicyConfig
	Firewall *firewall.Config // nil disables the firewall layer entirely

	Adapters []adapter.Port

	ApprovalCallback ApprovalCallback
	Logger           *slog.Logger

	// OnDecision, if set, is called once per Pay with the final verdict
	// for every code path (firewall block, policy block, human
	// rejection, adapter success/failure). It never influences the
	// decision itself — used to feed an audit log.
	OnDecision func(ctx context.Context, in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error)
}

// Gate is the payment firewall's orchestrator.
type Gate struct {
	firewall   *firewall.Firewall
	policy     *policy.Engine
	adapters   *adapter.Registry
	approve    ApprovalCallback
	logger     *slog.Logger
	serial     *syncutil.ShardedMutex
	onDecision func(ctx context.Context, in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error)
}

// New builds a Gate from Config.
func New(cfg Config) *Gate {
	var fw *firewall.Firewall
	if cfg.Firewall != nil {
		fw = firewall.New(*cfg.Firewall)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		firewall:   fw,
		policy:     policy.New(cfg.Policy),
		adapters:   adapter.NewRegistry(cfg.Adapters...),
		approve:    cfg.ApprovalCallback,
		logger:     logger,
		onDecision: cfg.OnDecision,
	}
}

func (g *Gate) notify(ctx context.Context, in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error) {
	if g.onDecision != nil {
		g.onDecision(ctx, in, result, decisionErr)
	}
}

// WithSerialization enables an opt-in sharded mutex keyed by
// recipient, serializing pay() calls that target the same recipient.
// The core's concurrency model otherwise tolerates the races spec.md
// §5 documents (concurrent spend-accounting updates, concurrent
// cooldown checks); this is purely a convenience for callers who want
// external serialization without forcing it on everyone.
func (g *Gate) WithSerialization() *Gate {
	g.serial = &syncutil.ShardedMutex{}
	return g
}

// RegisterAdapter adds an adapter to the registry after construction.
func (g *Gate) RegisterAdapter(a adapter.Port) {
	g.adapters.Register(a)
}

// Policy exposes the gate's policy engine so operator tooling can read
// or update the configured bounds at runtime.
func (g *Gate) Policy() *policy.Engine {
	return g.policy
}

// DetectProtocol derives a protocol tag from the intent's shape, per
// the fixed priority table: escrow presence, then an http(s) URL,
// then merchant/shop/store shapes, then agent://did: identifiers,
// defaulting to x402.
func DetectProtocol(in intent.PaymentIntent) intent.Protocol {
	if in.Escrow != nil {
		return intent.ProtocolEscrow
	}
	if strings.HasPrefix(in.Recipient, "http://") || strings.HasPrefix(in.Recipient, "https://") {
		return intent.ProtocolX402
	}
	lower := strings.ToLower(in.Recipient)
	if strings.HasPrefix(lower, "merchant:") || strings.HasPrefix(lower, "shop:") || strings.HasPrefix(lower, "store:") ||
		strings.HasSuffix(lower, ".merchant") || strings.HasSuffix(lower, ".shop") {
		return intent.ProtocolACP
	}
	if strings.HasPrefix(in.Recipient, "agent://") || strings.HasPrefix(in.Recipient, "did:") {
		return intent.ProtocolAP2
	}
	return intent.ProtocolX402
}

func (g *Gate) buildIntent(req Request) intent.PaymentIntent {
	return intent.PaymentIntent{
		ID:        idgen.WithPrefix("pay_"),
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Purpose:   req.Purpose,
		Protocol:  req.Protocol,
		Escrow:    req.Escrow,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}
}

// Pay runs the full pipeline: firewall, policy, human approval (if
// required), protocol detection, adapter routing, and — only on a
// successful result — spend recording.
func (g *Gate) Pay(ctx context.Context, req Request) (adapter.PaymentResult, error) {
	in := g.buildIntent(req)

	ctx, span := traces.StartSpan(ctx, "gate.pay",
		traces.IntentID(in.ID),
		traces.Recipient(in.Recipient),
		traces.Amount(strconv.FormatFloat(in.Amount, 'f', -1, 64)),
		traces.Currency(in.Currency),
	)
	defer span.End()

	start := time.Now()
	log := logging.L(ctx).With("intent_id", in.ID)

	if g.serial != nil {
		unlock := g.serial.Lock(in.Recipient)
		defer unlock()
	}

	if g.firewall != nil {
		log.Info("evaluating firewall")
		v := g.firewall.Evaluate(in)
		if !v.Allowed {
			metrics.FirewallBlockedTotal.WithLabelValues(string(v.Layer)).Inc()
			log.Warn("blocked by firewall", "layer", v.Layer, "reason", v.Reason)
			confidence := 0.0
			if v.Confidence != nil {
				confidence = *v.Confidence
			}
			blockErr := &FirewallBlockedError{Layer: string(v.Layer), Confidence: confidence, Reason: v.Reason}
			g.notify(ctx, in, adapter.PaymentResult{}, blockErr)
			return adapter.PaymentResult{}, blockErr
		}
	}

	log.Info("evaluating policy")
	pv := g.policy.Evaluate(in)
	if !pv.Allowed {
		rule, _ := pv.Details["policy"].(string)
		value, _ := pv.Details["value"].(float64)
		limit, _ := pv.Details["limit"].(float64)
		metrics.PolicyBlockedTotal.WithLabelValues(rule).Inc()
		log.Warn("blocked by policy", "rule", rule, "reason", pv.Reason)
		blockErr := &PolicyViolationError{Policy: rule, Value: value, Limit: limit, Reason: pv.Reason}
		g.notify(ctx, in, adapter.PaymentResult{}, blockErr)
		return adapter.PaymentResult{}, blockErr
	}

	if g.policy.RequiresHumanApproval(in) {
		log.Info("awaiting human approval")
		if g.approve == nil {
			metrics.HumanApprovalsTotal.WithLabelValues("unconfigured").Inc()
			blockErr := &FirewallBlockedError{Layer: string(intent.LayerHuman), Reason: "amount requires human approval but no approval callback is configured"}
			g.notify(ctx, in, adapter.PaymentResult{}, blockErr)
			return adapter.PaymentResult{}, blockErr
		}
		ok, err := g.approve(ctx, in)
		if err != nil || !ok {
			reason := "rejected by human approver"
			if err != nil {
				reason = err.Error()
			}
			metrics.HumanApprovalsTotal.WithLabelValues("rejected").Inc()
			log.Warn("blocked by human approver", "reason", reason)
			blockErr := &FirewallBlockedError{Layer: string(intent.LayerHuman), Reason: reason}
			g.notify(ctx, in, adapter.PaymentResult{}, blockErr)
			return adapter.PaymentResult{}, blockErr
		}
		metrics.HumanApprovalsTotal.WithLabelValues("approved").Inc()
	}

	if in.Protocol == "" {
		in.Protocol = DetectProtocol(in)
	}
	span.SetAttributes(traces.Protocol(string(in.Protocol)))

	a := g.adapters.Resolve(string(in.Protocol))
	if a == nil {
		metrics.PaymentsTotal.WithLabelValues(string(in.Protocol), "no_adapter").Inc()
		noAdapterErr := &NoAdapterError{Protocol: string(in.Protocol)}
		g.notify(ctx, in, adapter.PaymentResult{}, noAdapterErr)
		return adapter.PaymentResult{}, noAdapterErr
	}

	log.Info("routing to adapter", "protocol", in.Protocol)
	result, err := a.Execute(ctx, in)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(string(in.Protocol), "failed").Inc()
		execErr := &PaymentFailedError{Protocol: string(in.Protocol), Cause: err}
		g.notify(ctx, in, adapter.PaymentResult{}, execErr)
		return adapter.PaymentResult{}, execErr
	}

	if result.Success {
		g.policy.RecordTransaction(in)
		metrics.PaymentsTotal.WithLabelValues(string(in.Protocol), "success").Inc()
	} else {
		metrics.PaymentsTotal.WithLabelValues(string(in.Protocol), "adapter_failure").Inc()
		log.Warn("adapter returned unsuccessful result", "error", result.Error)
	}

	metrics.PaymentDuration.WithLabelValues(string(in.Protocol)).Observe(time.Since(start).Seconds())
	g.notify(ctx, in, result, nil)
	return result, nil
}

// Check is the dry-run variant: it runs firewall and policy checks and
// reports what pay() would do, without ever invoking an adapter or
// recording spend.
func (g *Gate) Check(ctx context.Context, req Request) intent.Verdict {
	in := g.buildIntent(req)

	if g.firewall != nil {
		if v := g.firewall.Evaluate(in); !v.Allowed {
			return v
		}
	}

	if v := g.policy.Evaluate(in); !v.Allowed {
		return v
	}

	if g.policy.RequiresHumanApproval(in) {
		return intent.Verdict{
			Allowed: true,
			Layer:   intent.LayerHuman,
			Reason:  "amount requires human approval",
			Details: map[string]any{"requiresHumanApproval": true},
		}
	}

	protocol := in.Protocol
	if protocol == "" {
		protocol = DetectProtocol(in)
	}
	if g.adapters.Resolve(string(protocol)) == nil {
		return intent.Verdict{
			Allowed: false,
			Layer:   intent.LayerPolicy,
			Reason:  "no adapter registered for protocol " + string(protocol),
		}
	}

	return intent.Verdict{Allowed: true, Layer: intent.LayerPolicy, Reason: "would execute"}
}
