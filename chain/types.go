// Package chain defines the data PISA's response core observes and
// produces: blocks, transactions, and the identifier used to match a
// broadcast transaction against chain observations.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Hash and Address are the ecosystem's canonical fixed-size types. PISA
// targets EVM-compatible chains, so there is no reason to re-derive hex
// codecs or RLP tags the whole corpus already carries.
type Hash = common.Hash
type Address = common.Address

// Transaction is the subset of an on-chain transaction's fields PISA's
// response core needs to observe or construct.
type Transaction struct {
	From      Address
	To        Address
	Data      []byte
	Value     *big.Int
	GasLimit  uint64
	GasPrice  *big.Int
	Nonce     uint64
	ChainID   *big.Int
	// BlockNumber is nil until the transaction is known to be mined.
	BlockNumber *big.Int
}

// Mined reports whether the transaction has been observed inside a
// block.
func (tx *Transaction) Mined() bool {
	return tx != nil && tx.BlockNumber != nil
}

// Identifier is the five-field fingerprint used to match a broadcast
// transaction against chain observations. It deliberately omits `from`
// and `nonce`: two transactions sent from different addresses, or at
// different nonces, but otherwise equal, are the same intent to PISA.
type Identifier struct {
	ChainID  *big.Int
	Data     string // hex or raw bytes as a comparable string
	To       Address
	Value    *big.Int
	GasLimit uint64
}

// IdentifierOf derives the Identifier fingerprint of a transaction.
func IdentifierOf(tx *Transaction) Identifier {
	return Identifier{
		ChainID:  tx.ChainID,
		Data:     string(tx.Data),
		To:       tx.To,
		Value:    new(big.Int).Set(tx.Value),
		GasLimit: tx.GasLimit,
	}
}

// Equal reports whether two identifiers refer to the same transaction
// intent. The zero value of Value/ChainID is treated as nil-safe.
func (id Identifier) Equal(other Identifier) bool {
	if id.To != other.To || id.Data != other.Data || id.GasLimit != other.GasLimit {
		return false
	}
	if bigCmp(id.ChainID, other.ChainID) != 0 {
		return false
	}
	return bigCmp(id.Value, other.Value) == 0
}

func bigCmp(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return new(big.Int).Neg(b).Sign()
	case b == nil:
		return a.Sign()
	default:
		return a.Cmp(b)
	}
}

// Block is the minimal chain block PISA's core reasons about.
type Block struct {
	Hash         Hash
	Number       uint64
	ParentHash   Hash
	Transactions []*Transaction
}

// SignedTransaction is the serialised form a signer produces and a
// notifier broadcasts, matching spec.md §6's wire shape.
type SignedTransaction struct {
	ChainID  *big.Int
	To       Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
	V, R, S  *big.Int
}

// rlpSignedTransaction mirrors SignedTransaction with the field order
// and tags RLP requires for a deterministic, round-trippable encoding.
type rlpSignedTransaction struct {
	ChainID  *big.Int
	To       Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
	V, R, S  *big.Int
}

// EncodeRLP gives SignedTransaction a deterministic wire encoding, used
// when the responder store or chain notifier need to persist or
// transmit the exact bytes a signer produced.
func (tx *SignedTransaction) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(&rlpSignedTransaction{
		ChainID: tx.ChainID, To: tx.To, Data: tx.Data, Value: tx.Value,
		GasLimit: tx.GasLimit, GasPrice: tx.GasPrice, Nonce: tx.Nonce,
		V: tx.V, R: tx.R, S: tx.S,
	})
}

// DecodeSignedTransactionRLP is the inverse of EncodeRLP.
func DecodeSignedTransactionRLP(b []byte) (*SignedTransaction, error) {
	var raw rlpSignedTransaction
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return nil, err
	}
	return &SignedTransaction{
		ChainID: raw.ChainID, To: raw.To, Data: raw.Data, Value: raw.Value,
		GasLimit: raw.GasLimit, GasPrice: raw.GasPrice, Nonce: raw.Nonce,
		V: raw.V, R: raw.R, S: raw.S,
	}, nil
}
