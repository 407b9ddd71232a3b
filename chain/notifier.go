package chain

import (
	"context"
	"math/big"
)

// Notifier is the external chain RPC boundary PISA's core depends on
// (spec.md §6). The core is agnostic to whether it is backed by HTTP,
// WebSocket, or IPC; this package supplies EthNotifier (ethclient) and
// FakeNotifier (in-memory), the way the teacher corpus keeps `ethclient`
// behind a thin interface rather than letting callers reach for the
// transport directly.
type Notifier interface {
	// Subscribe delivers the height of every new chain tip. Closing ctx
	// or calling the returned unsubscribe function stops delivery.
	Subscribe(ctx context.Context) (heights <-chan uint64, unsubscribe func(), err error)

	GetBlock(ctx context.Context, heightOrHash interface{}) (*Block, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	GetBalance(ctx context.Context, addr Address) (*big.Int, error)
	SendTransaction(ctx context.Context, signed *SignedTransaction) error
}

// Signer is the external signing boundary PISA's core depends on
// (spec.md §6). Key management and custody live outside this module.
type Signer interface {
	Address() Address
	ChainID() *big.Int
	Sign(tx *Transaction) (*SignedTransaction, error)
}
