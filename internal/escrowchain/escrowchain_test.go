package escrowchain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/agentpay/firewall/internal/wallet"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeEthClient confirms every transaction it sees on the first poll.
type fakeEthClient struct {
	sent []*types.Transaction
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: 1, BlockNumber: big.NewInt(1), GasUsed: 21000}, nil
}
func (f *fakeEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}
func (f *fakeEthClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(8453), nil }
func (f *fakeEthClient) Close()                                         {}

func testWallet(t *testing.T, key string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.New(wallet.Config{
		RPCURL:       "https://example.invalid",
		PrivateKey:   key,
		ChainID:      8453,
		USDCContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}, wallet.WithClient(&fakeEthClient{}))
	if err != nil {
		t.Fatalf("building test wallet: %v", err)
	}
	return w
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	buyer := testWallet(t, "1111111111111111111111111111111111111111111111111111111111111111")
	custodian := testWallet(t, "2222222222222222222222222222222222222222222222222222222222222222")
	l := New(buyer, custodian)
	l.ConfirmTimeout = 3 * time.Second
	return l
}

func TestEscrowLockTransfersFromBuyerToCustodian(t *testing.T) {
	l := newTestLedger(t)
	if err := l.EscrowLock(context.Background(), "0xbuyer", "10.50", "esc_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReleaseEscrowTransfersFromCustodianToSeller(t *testing.T) {
	l := newTestLedger(t)
	seller := "0x00000000000000000000000000000000000abc"
	if err := l.ReleaseEscrow(context.Background(), "0xbuyer", seller, "5.00", "esc_2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRefundEscrowTransfersFromCustodianToBuyer(t *testing.T) {
	l := newTestLedger(t)
	buyer := "0x00000000000000000000000000000000000def"
	if err := l.RefundEscrow(context.Background(), buyer, "2.25", "esc_3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEscrowLockRejectsInvalidAmount(t *testing.T) {
	l := newTestLedger(t)
	if err := l.EscrowLock(context.Background(), "0xbuyer", "not-a-number", "esc_4"); err == nil {
		t.Fatal("expected an error for a malformed amount")
	}
}
