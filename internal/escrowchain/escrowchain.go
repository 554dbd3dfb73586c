// Package escrowchain settles escrow.LedgerService operations on-chain
// using two ERC-20 wallets: the buyer's wallet, which locks funds by
// transferring them to a custodian address, and the custodian wallet,
// which controls that address and releases or refunds from it. There
// is no escrow smart contract; custody is just the custodian's own
// private key.
package escrowchain

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpay/firewall/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultConfirmTimeout bounds how long Lock/Release/Refund wait for
// their on-chain transaction to confirm before giving up.
const DefaultConfirmTimeout = 30 * time.Second

// Ledger implements escrow.LedgerService against real USDC transfers.
type Ledger struct {
	buyer          *wallet.Wallet
	custodian      *wallet.Wallet
	ConfirmTimeout time.Duration
}

// New builds a Ledger. buyer is the wallet whose funds get locked;
// custodian is the wallet that takes custody while an escrow is open
// and later releases to the seller or refunds the buyer.
func New(buyer, custodian *wallet.Wallet) *Ledger {
	return &Ledger{buyer: buyer, custodian: custodian, ConfirmTimeout: DefaultConfirmTimeout}
}

// EscrowLock moves the buyer's funds to the custodian address. agentAddr
// is not used: the transfer always originates from the
// configured buyer wallet, never from an arbitrary caller-supplied key.
func (l *Ledger) EscrowLock(ctx context.Context, agentAddr, amount, reference string) error {
	amt, err := wallet.ParseUSDC(amount)
	if err != nil {
		return fmt.Errorf("parsing escrow amount %q: %w", amount, err)
	}

	custodianAddr := common.HexToAddress(l.custodian.Address())
	result, err := l.buyer.Transfer(ctx, custodianAddr, amt)
	if err != nil {
		return fmt.Errorf("locking escrow %s on-chain: %w", reference, err)
	}

	if _, err := l.buyer.WaitForConfirmation(ctx, result.TxHash, l.ConfirmTimeout); err != nil {
		return fmt.Errorf("confirming escrow lock %s: %w", reference, err)
	}
	return nil
}

// ReleaseEscrow transfers custodied funds from the custodian address to
// the seller.
func (l *Ledger) ReleaseEscrow(ctx context.Context, buyerAddr, sellerAddr, amount, reference string) error {
	amt, err := wallet.ParseUSDC(amount)
	if err != nil {
		return fmt.Errorf("parsing escrow amount %q: %w", amount, err)
	}

	result, err := l.custodian.Transfer(ctx, common.HexToAddress(sellerAddr), amt)
	if err != nil {
		return fmt.Errorf("releasing escrow %s on-chain: %w", reference, err)
	}

	if _, err := l.custodian.WaitForConfirmation(ctx, result.TxHash, l.ConfirmTimeout); err != nil {
		return fmt.Errorf("confirming escrow release %s: %w", reference, err)
	}
	return nil
}

// RefundEscrow transfers custodied funds from the custodian address
// back to the buyer.
func (l *Ledger) RefundEscrow(ctx context.Context, agentAddr, amount, reference string) error {
	amt, err := wallet.ParseUSDC(amount)
	if err != nil {
		return fmt.Errorf("parsing escrow amount %q: %w", amount, err)
	}

	result, err := l.custodian.Transfer(ctx, common.HexToAddress(agentAddr), amt)
	if err != nil {
		return fmt.Errorf("refunding escrow %s on-chain: %w", reference, err)
	}

	if _, err := l.custodian.WaitForConfirmation(ctx, result.TxHash, l.ConfirmTimeout); err != nil {
		return fmt.Errorf("confirming escrow refund %s: %w", reference, err)
	}
	return nil
}

// PartialEscrowSettle splits custodied funds between the seller and the
// buyer, for arbitration outcomes that award neither party the full
// amount. The two transfers are independent; if the refund leg fails
// after the release leg confirms, the caller sees the error and the
// escrow remains in an auditable partially-settled state rather than
// being rolled back.
func (l *Ledger) PartialEscrowSettle(ctx context.Context, buyerAddr, sellerAddr, releaseAmount, refundAmount, reference string) error {
	if err := l.ReleaseEscrow(ctx, buyerAddr, sellerAddr, releaseAmount, reference+":release"); err != nil {
		return fmt.Errorf("partial settle %s: %w", reference, err)
	}
	if err := l.RefundEscrow(ctx, buyerAddr, refundAmount, reference+":refund"); err != nil {
		return fmt.Errorf("partial settle %s: %w", reference, err)
	}
	return nil
}
