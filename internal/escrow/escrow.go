// Package escrow provides buyer-protection for service payments.
//
// Flow:
//  1. Buyer calls service → funds moved: available → escrowed
//  2. Service delivers result → seller marks delivered
//  3. Buyer confirms → funds moved: buyer's escrowed → seller's available
//  4. Buyer disputes → funds stay escrowed while the dispute goes to arbitration
//  5. Timeout → auto-released to seller
package escrow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrInvalidStatus   = errors.New("invalid escrow status for this operation")
	ErrUnauthorized    = errors.New("not authorized for this escrow operation")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAlreadyResolved = errors.New("escrow already resolved")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusPending     Status = "pending"     // Created, funds locked
	StatusDelivered   Status = "delivered"   // Seller marked service as delivered
	StatusReleased    Status = "released"    // Buyer confirmed, funds sent to seller
	StatusDisputed    Status = "disputed"    // Buyer disputed, funds held pending arbitration
	StatusArbitrating Status = "arbitrating" // An arbitrator has been assigned
	StatusRefunded    Status = "refunded"    // Dispute resolved with refund
	StatusExpired     Status = "expired"     // Auto-released after timeout
)

// DefaultAutoRelease is the default time before auto-releasing to seller.
const DefaultAutoRelease = 5 * time.Minute

// DefaultDisputeWindow is how long a buyer has to dispute after delivery
// before a delivered escrow becomes eligible for auto-release.
const DefaultDisputeWindow = 24 * time.Hour

// DefaultArbitrationWindow bounds how long an assigned arbitrator has to
// resolve a dispute before it auto-resolves in the seller's favor.
const DefaultArbitrationWindow = 72 * time.Hour

// Evidence is one party's submission to a disputed escrow's record.
type Evidence struct {
	SubmittedBy string    `json:"submittedBy"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Escrow represents a buyer-protection escrow record.
type Escrow struct {
	ID                   string     `json:"id"`
	BuyerAddr            string     `json:"buyerAddr"`
	SellerAddr           string     `json:"sellerAddr"`
	Amount               string     `json:"amount"`
	ServiceID            string     `json:"serviceId,omitempty"`
	SessionKeyID         string     `json:"sessionKeyId,omitempty"`
	Status               Status     `json:"status"`
	AutoReleaseAt        time.Time  `json:"autoReleaseAt"`
	DeliveredAt          *time.Time `json:"deliveredAt,omitempty"`
	ResolvedAt           *time.Time `json:"resolvedAt,omitempty"`
	DisputeReason        string     `json:"disputeReason,omitempty"`
	Resolution           string     `json:"resolution,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	DisputeEvidence      []Evidence `json:"disputeEvidence,omitempty"`
	ArbitratorAddr       string     `json:"arbitratorAddr,omitempty"`
	ArbitrationDeadline  *time.Time `json:"arbitrationDeadline,omitempty"`
	PartialReleaseAmount string     `json:"partialReleaseAmount,omitempty"`
	PartialRefundAmount  string     `json:"partialRefundAmount,omitempty"`
	DisputeWindowUntil   *time.Time `json:"disputeWindowUntil,omitempty"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusReleased, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow) error
	ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error)
}

// LedgerService abstracts ledger operations so escrow doesn't import ledger.
type LedgerService interface {
	EscrowLock(ctx context.Context, agentAddr, amount, reference string) error
	ReleaseEscrow(ctx context.Context, buyerAddr, sellerAddr, amount, reference string) error
	RefundEscrow(ctx context.Context, agentAddr, amount, reference string) error
	PartialEscrowSettle(ctx context.Context, buyerAddr, sellerAddr, releaseAmount, refundAmount, reference string) error
}

// ReputationImpactor lets a registry factor escrow dispute outcomes into
// a seller's reputation score. Outcome is one of "disputed", "confirmed",
// "refunded", or "partial".
type ReputationImpactor interface {
	RecordDispute(ctx context.Context, sellerAddr, outcome, amount string) error
}

// ResolveRequest contains the parameters for an arbitrator's decision.
type ResolveRequest struct {
	Resolution    string `json:"resolution" binding:"required"` // "release", "refund", or "partial"
	ReleaseAmount string `json:"releaseAmount,omitempty"`       // required for "partial"
	Reason        string `json:"reason,omitempty"`
}

// TransactionRecorder records transactions for reputation tracking.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, txHash, from, to, amount, serviceID, status string) error
}

// RevenueAccumulator intercepts payments for revenue staking.
type RevenueAccumulator interface {
	AccumulateRevenue(ctx context.Context, agentAddr, amount string) error
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	BuyerAddr    string `json:"buyerAddr" binding:"required"`
	SellerAddr   string `json:"sellerAddr" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	ServiceID    string `json:"serviceId"`
	SessionKeyID string `json:"sessionKeyId"`
	AutoRelease  string `json:"autoRelease"` // Duration string, e.g. "5m", "1h"
}

// DisputeRequest contains the parameters for disputing an escrow.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Service implements escrow business logic.
type Service struct {
	store      Store
	ledger     LedgerService
	recorder   TransactionRecorder
	revenue    RevenueAccumulator
	reputation ReputationImpactor
	locks      sync.Map // per-escrow ID locks to prevent race conditions
}

// escrowLock returns a mutex for the given escrow ID.
// This prevents concurrent state transitions (e.g. confirm + auto-release racing).
func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NewService creates a new escrow service.
func NewService(store Store, ledger LedgerService) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
	}
}

// WithRecorder adds a transaction recorder for reputation integration.
func (s *Service) WithRecorder(r TransactionRecorder) *Service {
	s.recorder = r
	return s
}

// WithRevenueAccumulator adds a revenue accumulator for stakes interception.
func (s *Service) WithRevenueAccumulator(r RevenueAccumulator) *Service {
	s.revenue = r
	return s
}

// WithReputationImpactor wires dispute outcomes into a reputation registry.
func (s *Service) WithReputationImpactor(r ReputationImpactor) *Service {
	s.reputation = r
	return s
}

// Create creates a new escrow and locks buyer funds.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	if strings.EqualFold(req.BuyerAddr, req.SellerAddr) {
		return nil, errors.New("buyer and seller cannot be the same address")
	}

	autoRelease := DefaultAutoRelease
	if req.AutoRelease != "" {
		d, err := time.ParseDuration(req.AutoRelease)
		if err == nil && d > 0 {
			autoRelease = d
		}
	}

	now := time.Now()
	escrow := &Escrow{
		ID:            generateEscrowID(),
		BuyerAddr:     strings.ToLower(req.BuyerAddr),
		SellerAddr:    strings.ToLower(req.SellerAddr),
		Amount:        req.Amount,
		ServiceID:     req.ServiceID,
		SessionKeyID:  req.SessionKeyID,
		Status:        StatusPending,
		AutoReleaseAt: now.Add(autoRelease),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Lock buyer funds in escrow
	if err := s.ledger.EscrowLock(ctx, escrow.BuyerAddr, escrow.Amount, escrow.ID); err != nil {
		return nil, fmt.Errorf("failed to lock escrow funds: %w", err)
	}

	if err := s.store.Create(ctx, escrow); err != nil {
		// Best-effort refund if store fails
		_ = s.ledger.RefundEscrow(ctx, escrow.BuyerAddr, escrow.Amount, escrow.ID)
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	return escrow, nil
}

// MarkDelivered marks the escrow as delivered by the seller.
func (s *Service) MarkDelivered(ctx context.Context, id, callerAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.SellerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if escrow.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	disputeWindow := now.Add(DefaultDisputeWindow)
	escrow.Status = StatusDelivered
	escrow.DeliveredAt = &now
	escrow.DisputeWindowUntil = &disputeWindow
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, err
	}

	return escrow, nil
}

// Confirm releases escrowed funds to the seller.
func (s *Service) Confirm(ctx context.Context, id, callerAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.BuyerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if escrow.Status != StatusPending && escrow.Status != StatusDelivered {
		return nil, ErrInvalidStatus
	}

	// Release funds to seller
	if err := s.ledger.ReleaseEscrow(ctx, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ID); err != nil {
		return nil, fmt.Errorf("failed to release escrow funds: %w", err)
	}

	now := time.Now()
	escrow.Status = StatusReleased
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		// Retry once — funds already moved, we must persist the state change
		if retryErr := s.store.Update(ctx, escrow); retryErr != nil {
			// CRITICAL: Funds were released to seller but escrow record is stale.
			// Cannot safely reverse ReleaseEscrow (no inverse operation).
			// Log for manual resolution rather than applying wrong compensation.
			log.Printf("CRITICAL: escrow %s funds released to %s but status update failed: %v",
				escrow.ID, escrow.SellerAddr, retryErr)
			return nil, fmt.Errorf("failed to update escrow after fund release (requires manual resolution): %w", err)
		}
	}

	// Record confirmed transaction for reputation
	if s.recorder != nil {
		_ = s.recorder.RecordTransaction(ctx, escrow.ID, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ServiceID, "confirmed")
	}

	// Intercept revenue for stakes (seller earned money)
	if s.revenue != nil {
		_ = s.revenue.AccumulateRevenue(ctx, escrow.SellerAddr, escrow.Amount)
	}

	return escrow, nil
}

// Dispute flags the escrow for arbitration. Funds stay locked with the
// custodian until an arbitrator resolves the dispute via
// ResolveArbitration, or the arbitration deadline auto-resolves it.
func (s *Service) Dispute(ctx context.Context, id, callerAddr, reason string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.BuyerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if escrow.Status != StatusPending && escrow.Status != StatusDelivered {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	escrow.Status = StatusDisputed
	escrow.DisputeReason = reason
	escrow.DisputeEvidence = append(escrow.DisputeEvidence, Evidence{
		SubmittedBy: strings.ToLower(callerAddr),
		Content:     reason,
		SubmittedAt: now,
	})
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to update escrow to disputed: %w", err)
	}

	if s.recorder != nil {
		_ = s.recorder.RecordTransaction(ctx, escrow.ID, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ServiceID, "failed")
	}
	if s.reputation != nil {
		_ = s.reputation.RecordDispute(ctx, escrow.SellerAddr, "disputed", escrow.Amount)
	}

	return escrow, nil
}

// SubmitEvidence lets either the buyer or seller attach evidence to a
// disputed or arbitrating escrow.
func (s *Service) SubmitEvidence(ctx context.Context, id, callerAddr, content string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	caller := strings.ToLower(callerAddr)
	if caller != escrow.BuyerAddr && caller != escrow.SellerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusDisputed && escrow.Status != StatusArbitrating {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	escrow.DisputeEvidence = append(escrow.DisputeEvidence, Evidence{
		SubmittedBy: caller,
		Content:     content,
		SubmittedAt: now,
	})
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to record evidence: %w", err)
	}

	return escrow, nil
}

// AssignArbitrator escalates a disputed escrow to arbitration.
func (s *Service) AssignArbitrator(ctx context.Context, id, callerAddr, arbitratorAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	caller := strings.ToLower(callerAddr)
	if caller != escrow.BuyerAddr && caller != escrow.SellerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	deadline := now.Add(DefaultArbitrationWindow)
	escrow.Status = StatusArbitrating
	escrow.ArbitratorAddr = strings.ToLower(arbitratorAddr)
	escrow.ArbitrationDeadline = &deadline
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to assign arbitrator: %w", err)
	}

	return escrow, nil
}

// ResolveArbitration settles an arbitrating escrow per the arbitrator's
// decision: full release to the seller, full refund to the buyer, or a
// partial split of both.
func (s *Service) ResolveArbitration(ctx context.Context, id, callerAddr string, req ResolveRequest) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if escrow.Status != StatusArbitrating {
		return nil, ErrInvalidStatus
	}

	if strings.ToLower(callerAddr) != escrow.ArbitratorAddr {
		return nil, ErrUnauthorized
	}

	var outcome, recordedStatus string
	switch req.Resolution {
	case "release":
		if err := s.ledger.ReleaseEscrow(ctx, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ID); err != nil {
			return nil, fmt.Errorf("failed to release escrow on arbitration: %w", err)
		}
		escrow.Status = StatusReleased
		outcome, recordedStatus = "confirmed", "confirmed"

	case "refund":
		if err := s.ledger.RefundEscrow(ctx, escrow.BuyerAddr, escrow.Amount, escrow.ID); err != nil {
			return nil, fmt.Errorf("failed to refund escrow on arbitration: %w", err)
		}
		escrow.Status = StatusRefunded
		outcome, recordedStatus = "refunded", "failed"

	case "partial":
		total, err := strconv.ParseFloat(escrow.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("escrow has unparseable amount %q: %w", escrow.Amount, err)
		}
		release, err := strconv.ParseFloat(req.ReleaseAmount, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid releaseAmount %q: %w", req.ReleaseAmount, err)
		}
		if release <= 0 || release >= total {
			return nil, fmt.Errorf("releaseAmount %v must be between 0 and the escrowed amount %v", release, total)
		}
		refund := total - release
		releaseStr := strconv.FormatFloat(release, 'f', 2, 64)
		refundStr := strconv.FormatFloat(refund, 'f', 2, 64)
		if err := s.ledger.PartialEscrowSettle(ctx, escrow.BuyerAddr, escrow.SellerAddr, releaseStr, refundStr, escrow.ID); err != nil {
			return nil, fmt.Errorf("failed to settle partial arbitration: %w", err)
		}
		escrow.Status = StatusReleased
		escrow.PartialReleaseAmount = releaseStr
		escrow.PartialRefundAmount = refundStr
		outcome, recordedStatus = "partial", "confirmed"

	default:
		return nil, fmt.Errorf("unknown resolution %q", req.Resolution)
	}

	now := time.Now()
	escrow.Resolution = req.Resolution
	if req.Reason != "" {
		escrow.DisputeEvidence = append(escrow.DisputeEvidence, Evidence{
			SubmittedBy: escrow.ArbitratorAddr,
			Content:     req.Reason,
			SubmittedAt: now,
		})
	}
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to update escrow after arbitration: %w", err)
	}

	if s.recorder != nil {
		_ = s.recorder.RecordTransaction(ctx, escrow.ID, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ServiceID, recordedStatus)
	}
	if s.reputation != nil {
		_ = s.reputation.RecordDispute(ctx, escrow.SellerAddr, outcome, escrow.Amount)
	}

	return escrow, nil
}

// AutoRelease releases expired escrows to the seller.
func (s *Service) AutoRelease(ctx context.Context, escrow *Escrow) error {
	mu := s.escrowLock(escrow.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read from store under lock to prevent stale-state races
	fresh, err := s.store.Get(ctx, escrow.ID)
	if err != nil {
		return err
	}
	escrow = fresh

	if escrow.IsTerminal() {
		return ErrAlreadyResolved
	}

	if escrow.Status != StatusPending && escrow.Status != StatusDelivered {
		return ErrInvalidStatus
	}

	// Release funds to seller
	if err := s.ledger.ReleaseEscrow(ctx, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ID); err != nil {
		return fmt.Errorf("failed to auto-release escrow: %w", err)
	}

	now := time.Now()
	escrow.Status = StatusExpired
	escrow.Resolution = "auto_released"
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		// Retry once — funds already moved, we must persist the state change
		if retryErr := s.store.Update(ctx, escrow); retryErr != nil {
			// CRITICAL: Funds were auto-released to seller but escrow record is stale.
			// Cannot safely reverse ReleaseEscrow (no inverse operation).
			// Log for manual resolution rather than applying wrong compensation.
			log.Printf("CRITICAL: escrow %s auto-released to %s but status update failed: %v",
				escrow.ID, escrow.SellerAddr, retryErr)
			return fmt.Errorf("failed to update escrow after auto-release (requires manual resolution): %w", err)
		}
	}

	// Record confirmed transaction for reputation (auto-release counts as success)
	if s.recorder != nil {
		_ = s.recorder.RecordTransaction(ctx, escrow.ID, escrow.BuyerAddr, escrow.SellerAddr, escrow.Amount, escrow.ServiceID, "confirmed")
	}

	// Intercept revenue for stakes (seller earned money)
	if s.revenue != nil {
		_ = s.revenue.AccumulateRevenue(ctx, escrow.SellerAddr, escrow.Amount)
	}

	return nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByAgent returns escrows involving an agent (as buyer or seller).
func (s *Service) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAgent(ctx, strings.ToLower(agentAddr), limit)
}

func generateEscrowID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("esc_%x", b)
}
