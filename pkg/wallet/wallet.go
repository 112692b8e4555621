// Package wallet implements Ed25519 keypair generation, BIP-39/BIP-32
// style mnemonic derivation, and transaction signing. BIP-32's hardened
// child-key derivation produces uniform 32-byte key material regardless
// of which curve eventually consumes it, so the derivation path stays
// the same even though the consuming keypair is Ed25519 rather than an
// elliptic-curve scalar.
package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"trv-chain/pkg/core"
)

// Wallet holds one Ed25519 keypair and its derived address.
type Wallet struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Address    core.Address
}

// GenerateMnemonic returns a fresh 12-word BIP-39 mnemonic (128 bits of
// entropy).
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NewWalletFromMnemonic derives a wallet deterministically from a BIP-39
// mnemonic. BIP-32's child-key derivation produces 32 bytes of uniformly
// random-looking key material from the seed; since Ed25519's own
// RFC 8032 key generation takes any 32-byte seed, the derived child key
// bytes are used directly as that seed rather than as an elliptic-curve
// scalar (BIP-32's EC point-multiplication semantics are curve-specific
// and do not apply to Ed25519 directly — this is seed-stretching, not
// elliptic-curve child-key derivation).
func NewWalletFromMnemonic(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	childKey, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, fmt.Errorf("derive child key: %w", err)
	}
	if len(childKey.Key) != ed25519.SeedSize {
		return nil, fmt.Errorf("derived key material is %d bytes, want %d", len(childKey.Key), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(childKey.Key)
	return fromPrivateKey(priv)
}

// NewWallet generates a fresh random Ed25519 keypair, for use when no
// mnemonic recovery is needed (e.g. `keygen`).
func NewWallet() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivateKey(priv)
}

func newPrivateKeyFromSeed(seed []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(seed)
}

func fromPrivateKey(priv ed25519.PrivateKey) (*Wallet, error) {
	pub := priv.Public().(ed25519.PublicKey)
	addr, err := core.AddressFromPubKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}
	return &Wallet{PrivateKey: priv, PublicKey: pub, Address: addr}, nil
}

// SignTransaction signs tx's signing digest with w's private key.
func (w *Wallet) SignTransaction(tx *core.Transaction) {
	tx.Sign(w.PrivateKey)
}
