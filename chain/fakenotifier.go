package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// FakeNotifier is an in-memory Notifier used by tests, grounded on the
// teacher corpus' in-memory test backends (e.g. the preloaded chain
// fixtures under tests/). It never touches the network.
type FakeNotifier struct {
	mu     sync.Mutex
	blocks map[Hash]*Block
	byNum  map[uint64]Hash
	head   uint64

	gasPrice *big.Int
	balances map[Address]*big.Int

	subs []chan uint64
	sent []*SignedTransaction
}

// NewFakeNotifier returns a FakeNotifier seeded with a genesis block at
// height 0.
func NewFakeNotifier(genesis *Block) *FakeNotifier {
	n := &FakeNotifier{
		blocks:   make(map[Hash]*Block),
		byNum:    make(map[uint64]Hash),
		gasPrice: big.NewInt(1_000_000_000),
		balances: make(map[Address]*big.Int),
	}
	n.blocks[genesis.Hash] = genesis
	n.byNum[genesis.Number] = genesis.Hash
	n.head = genesis.Number
	return n
}

// AddBlock registers a new block and notifies subscribers if it becomes
// the new tip by height.
func (n *FakeNotifier) AddBlock(b *Block) {
	n.mu.Lock()
	n.blocks[b.Hash] = b
	n.byNum[b.Number] = b.Hash
	tip := b.Number >= n.head
	if tip {
		n.head = b.Number
	}
	subs := append([]chan uint64(nil), n.subs...)
	n.mu.Unlock()

	if !tip {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- b.Number:
		default:
		}
	}
}

func (n *FakeNotifier) SetBalance(addr Address, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[addr] = wei
}

func (n *FakeNotifier) Sent() []*SignedTransaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*SignedTransaction(nil), n.sent...)
}

func (n *FakeNotifier) Subscribe(ctx context.Context) (<-chan uint64, func(), error) {
	ch := make(chan uint64, 16)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, c := range n.subs {
			if c == ch {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe, nil
}

func (n *FakeNotifier) GetBlock(ctx context.Context, heightOrHash interface{}) (*Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch v := heightOrHash.(type) {
	case Hash:
		b, ok := n.blocks[v]
		if !ok {
			return nil, fmt.Errorf("chain: unknown block hash %x", v)
		}
		return b, nil
	case uint64:
		h, ok := n.byNum[v]
		if !ok {
			return nil, fmt.Errorf("chain: unknown block height %d", v)
		}
		return n.blocks[h], nil
	default:
		return nil, fmt.Errorf("chain: unsupported block selector %T", v)
	}
}

func (n *FakeNotifier) GetBlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head, nil
}

func (n *FakeNotifier) GetGasPrice(ctx context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.gasPrice), nil
}

func (n *FakeNotifier) GetBalance(ctx context.Context, addr Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if bal, ok := n.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (n *FakeNotifier) SendTransaction(ctx context.Context, signed *SignedTransaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, signed)
	return nil
}
