// Package core defines the wire-level types of the chain: addresses,
// transactions, blocks and the canonical byte encodings and hashes that
// every other package builds on.
package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	AddressLen   = ed25519.PublicKeySize // 32
	SignatureLen = ed25519.SignatureSize // 64
	HashLen      = sha256.Size           // 32

	// DeployMarkerByte0/1 flag a transaction's Data payload as a contract
	// deployment for the purposes of the developer fee share.
	DeployMarkerByte0 = 0xC0
	DeployMarkerByte1 = 0xDE

	// BaseTxGas and PerByteGas implement gas_used(tx) = 21000 + 68*|data|.
	BaseTxGas  = 21000
	PerByteGas = 68
)

// Address is a 32-byte Ed25519 public key, also used as ValidatorId.
type Address [AddressLen]byte

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == Address{} }

// Less provides the lexicographic ascending order used to break ties
// between validators with equal effective stake.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func AddressFromHex(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode address hex: %w", err)
	}
	if len(b) != AddressLen {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func AddressFromPubKey(pub ed25519.PublicKey) (Address, error) {
	var a Address
	if len(pub) != AddressLen {
		return a, fmt.Errorf("public key must be %d bytes, got %d", AddressLen, len(pub))
	}
	copy(a[:], pub)
	return a, nil
}

// Hash is a 32-byte SHA-256 digest, used for BlockHash, TxHash,
// EvidenceHash and StateRoot.
type Hash [HashLen]byte

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashLen {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func SumSHA256(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Transaction is the wire and execution representation of a transfer.
type Transaction struct {
	From      Address
	To        Address
	Amount    uint64
	Nonce     uint64
	Signature [SignatureLen]byte
	Data      []byte
}

// SigningDigest is SHA-256(from || to || amount_le || nonce_le || data),
// the digest the transaction's signature must verify against.
func (tx *Transaction) SigningDigest() Hash {
	var amountLE, nonceLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], tx.Amount)
	binary.LittleEndian.PutUint64(nonceLE[:], tx.Nonce)
	return SumSHA256(tx.From[:], tx.To[:], amountLE[:], nonceLE[:], tx.Data)
}

// CanonicalEncoding is the fixed-layout byte form used for hashing and
// for round-tripping a transaction: length-prefixed fields in a pinned
// order.
func (tx *Transaction) CanonicalEncoding() []byte {
	out := make([]byte, 0, AddressLen*2+8+8+SignatureLen+4+len(tx.Data))
	out = append(out, tx.From[:]...)
	out = append(out, tx.To[:]...)
	var amountLE, nonceLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], tx.Amount)
	binary.LittleEndian.PutUint64(nonceLE[:], tx.Nonce)
	out = append(out, amountLE[:]...)
	out = append(out, nonceLE[:]...)
	out = append(out, tx.Signature[:]...)
	var dataLen [4]byte
	binary.LittleEndian.PutUint32(dataLen[:], uint32(len(tx.Data)))
	out = append(out, dataLen[:]...)
	out = append(out, tx.Data...)
	return out
}

func (tx *Transaction) Hash() Hash {
	return SumSHA256(tx.CanonicalEncoding())
}

// IsContractDeployment reports whether Data carries the deployment
// marker: the first two bytes are 0xC0 0xDE.
func (tx *Transaction) IsContractDeployment() bool {
	return len(tx.Data) >= 2 && tx.Data[0] == DeployMarkerByte0 && tx.Data[1] == DeployMarkerByte1
}

// GasUsed implements gas_used(tx) = 21000 + 68*|data|.
func (tx *Transaction) GasUsed() uint64 {
	return BaseTxGas + PerByteGas*uint64(len(tx.Data))
}

// Verify checks the transaction's signature against its signing digest.
func (tx *Transaction) Verify() bool {
	digest := tx.SigningDigest()
	return ed25519.Verify(ed25519.PublicKey(tx.From[:]), digest[:], tx.Signature[:])
}

// Sign signs the transaction's signing digest with priv and sets Signature.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) {
	digest := tx.SigningDigest()
	sig := ed25519.Sign(priv, digest[:])
	copy(tx.Signature[:], sig)
}

// BlockHeader carries everything about a block except its transactions.
type BlockHeader struct {
	Height        uint64
	TimestampUnix int64
	ParentHash    Hash
	Proposer      Address
	StateRoot     Hash
	TxMerkleRoot  Hash
}

func (h *BlockHeader) CanonicalEncoding() []byte {
	out := make([]byte, 0, 8+8+HashLen+AddressLen+HashLen+HashLen)
	var heightLE [8]byte
	binary.LittleEndian.PutUint64(heightLE[:], h.Height)
	out = append(out, heightLE[:]...)
	var tsLE [8]byte
	binary.LittleEndian.PutUint64(tsLE[:], uint64(h.TimestampUnix))
	out = append(out, tsLE[:]...)
	out = append(out, h.ParentHash[:]...)
	out = append(out, h.Proposer[:]...)
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.TxMerkleRoot[:]...)
	return out
}

func (h *BlockHeader) Hash() Hash {
	return SumSHA256(h.CanonicalEncoding())
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

func (b *Block) Hash() Hash { return b.Header.Hash() }

// TxHashes returns the tx_hash of every transaction in inclusion order.
func (b *Block) TxHashes() []Hash {
	out := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = tx.Hash()
	}
	return out
}
