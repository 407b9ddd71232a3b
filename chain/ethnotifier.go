package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthNotifier is a Notifier backed by go-ethereum's ethclient, the
// concrete transport SPEC_FULL.md §4.8 names as the model for this
// interface's subscription style. It is grounded on client's own use
// of ethclient.Client as the low-level transport beneath a narrower,
// PISA-specific interface (client/bridge_client.go's pattern of
// wrapping *ethclient.Client rather than exposing it directly).
type EthNotifier struct {
	c *ethclient.Client
}

// DialEthNotifier connects to an EVM-compatible RPC endpoint.
func DialEthNotifier(ctx context.Context, rawurl string) (*EthNotifier, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawurl, err)
	}
	return &EthNotifier{c: c}, nil
}

// Subscribe delivers the height of every new chain tip via
// ethclient's SubscribeNewHead, the subscription primitive
// SPEC_FULL.md §4.8 points to.
func (n *EthNotifier) Subscribe(ctx context.Context) (<-chan uint64, func(), error) {
	headers := make(chan *types.Header, 16)
	sub, err := n.c.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: subscribe new head: %w", err)
	}

	heights := make(chan uint64, 16)
	done := make(chan struct{})
	go func() {
		defer close(heights)
		for {
			select {
			case <-done:
				return
			case <-sub.Err():
				return
			case h := <-headers:
				select {
				case heights <- h.Number.Uint64():
				case <-done:
					return
				}
			}
		}
	}()

	unsubscribe := func() {
		sub.Unsubscribe()
		close(done)
	}
	return heights, unsubscribe, nil
}

// GetBlock accepts either a uint64 height or a Hash, matching the
// Notifier interface's heightOrHash parameter.
func (n *EthNotifier) GetBlock(ctx context.Context, heightOrHash interface{}) (*Block, error) {
	var b *types.Block
	var err error
	switch v := heightOrHash.(type) {
	case uint64:
		b, err = n.c.BlockByNumber(ctx, new(big.Int).SetUint64(v))
	case Hash:
		b, err = n.c.BlockByHash(ctx, v)
	default:
		return nil, fmt.Errorf("chain: unsupported block selector %T", heightOrHash)
	}
	if err != nil {
		return nil, fmt.Errorf("chain: get block: %w", err)
	}
	return toBlock(b), nil
}

func toBlock(b *types.Block) *Block {
	txs := make([]*Transaction, len(b.Transactions()))
	for i, tx := range b.Transactions() {
		from, _ := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		txs[i] = &Transaction{
			From:        from,
			To:          derefTo(tx.To()),
			Data:        tx.Data(),
			Value:       tx.Value(),
			GasLimit:    tx.Gas(),
			GasPrice:    tx.GasPrice(),
			Nonce:       tx.Nonce(),
			ChainID:     tx.ChainId(),
			BlockNumber: b.Number(),
		}
	}
	return &Block{
		Hash:         b.Hash(),
		Number:       b.NumberU64(),
		ParentHash:   b.ParentHash(),
		Transactions: txs,
	}
}

func derefTo(to *Address) Address {
	if to == nil {
		return Address{}
	}
	return *to
}

func (n *EthNotifier) GetBlockNumber(ctx context.Context) (uint64, error) {
	h, err := n.c.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: get block number: %w", err)
	}
	return h, nil
}

func (n *EthNotifier) GetGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := n.c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return price, nil
}

func (n *EthNotifier) GetBalance(ctx context.Context, addr Address) (*big.Int, error) {
	bal, err := n.c.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: get balance: %w", err)
	}
	return bal, nil
}

func (n *EthNotifier) SendTransaction(ctx context.Context, signed *SignedTransaction) error {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    signed.Nonce,
		GasPrice: signed.GasPrice,
		Gas:      signed.GasLimit,
		To:       addressPtr(signed.To),
		Value:    signed.Value,
		Data:     signed.Data,
		V:        signed.V,
		R:        signed.R,
		S:        signed.S,
	})
	if err := n.c.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send transaction: %w", err)
	}
	return nil
}

func addressPtr(a Address) *Address {
	return &a
}
