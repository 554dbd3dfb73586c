package gate

import "fmt"

// FirewallBlockedError is raised when the firewall or the human
// approval step blocks a payment. Layer is one of classifier,
// intent-diff, or human.
type FirewallBlockedError struct {
	Layer      string
	Confidence float64
	Reason     string
}

func (e *FirewallBlockedError) Error() string {
	return fmt.Sprintf("FIREWALL_BLOCKED: layer=%s confidence=%.2f: %s", e.Layer, e.Confidence, e.Reason)
}

// PolicyViolationError is raised when the policy engine blocks a
// payment.
type PolicyViolationError struct {
	Policy string
	Value  float64
	Limit  float64
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("POLICY_VIOLATION: policy=%s value=%v limit=%v: %s", e.Policy, e.Value, e.Limit, e.Reason)
}

// NoAdapterError is raised when no registered adapter matches the
// resolved protocol.
type NoAdapterError struct {
	Protocol string
}

func (e *NoAdapterError) Error() string {
	return fmt.Sprintf("NO_ADAPTER: no adapter registered for protocol %q", e.Protocol)
}

// PaymentFailedError wraps a synchronous adapter failure.
type PaymentFailedError struct {
	Protocol      string
	TransactionID string
	Cause         error
}

func (e *PaymentFailedError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("PAYMENT_FAILED: protocol=%s transactionId=%s: %v", e.Protocol, e.TransactionID, e.Cause)
	}
	return fmt.Sprintf("PAYMENT_FAILED: protocol=%s: %v", e.Protocol, e.Cause)
}

func (e *PaymentFailedError) Unwrap() error { return e.Cause }
