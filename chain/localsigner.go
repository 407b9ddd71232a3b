package chain

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner is a reference Signer implementation backed by an
// in-process private key. Production deployments are expected to
// supply their own custody-backed Signer (spec.md §6 lists it as an
// external collaborator); LocalSigner exists for tests and for the
// single-operator deployments the original PISA prototype targeted.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address Address
	chainID *big.Int
}

// NewLocalSigner derives a Signer from a raw ECDSA key.
func NewLocalSigner(key *ecdsa.PrivateKey, chainID *big.Int) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

func (s *LocalSigner) Address() Address    { return s.address }
func (s *LocalSigner) ChainID() *big.Int   { return s.chainID }

// Sign hashes the transaction's signable fields and produces an
// (v, r, s) signature over them, the same shape EIP-155 signing uses.
func (s *LocalSigner) Sign(tx *Transaction) (*SignedTransaction, error) {
	hash := crypto.Keccak256(signingPreimage(tx, s.chainID))

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}

	r := new(big.Int).SetBytes(sig[:32])
	s2 := new(big.Int).SetBytes(sig[32:64])
	vByte := sig[64]

	return &SignedTransaction{
		ChainID:  s.chainID,
		To:       tx.To,
		Data:     tx.Data,
		Value:    tx.Value,
		GasLimit: tx.GasLimit,
		GasPrice: tx.GasPrice,
		Nonce:    tx.Nonce,
		V:        big.NewInt(int64(vByte) + 35 + 2*s.chainID.Int64()),
		R:        r,
		S:        s2,
	}, nil
}

func signingPreimage(tx *Transaction, chainID *big.Int) []byte {
	buf := make([]byte, 0, len(tx.Data)+64)
	buf = append(buf, tx.To.Bytes()...)
	buf = append(buf, tx.Data...)
	if tx.Value != nil {
		buf = append(buf, tx.Value.Bytes()...)
	}
	buf = append(buf, chainID.Bytes()...)
	nonceBytes := big.NewInt(int64(tx.Nonce)).Bytes()
	buf = append(buf, nonceBytes...)
	return buf
}
