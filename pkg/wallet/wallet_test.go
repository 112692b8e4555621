package wallet

import (
	"path/filepath"
	"testing"

	"trv-chain/pkg/core"
)

func TestNewWallet_ProducesValidAddress(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	if w.Address.IsZero() {
		t.Fatalf("expected a non-zero derived address")
	}
}

func TestNewWalletFromMnemonic_Deterministic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}

	w1, err := NewWalletFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("NewWalletFromMnemonic: %v", err)
	}
	w2, err := NewWalletFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("NewWalletFromMnemonic (second): %v", err)
	}
	if w1.Address != w2.Address {
		t.Fatalf("expected the same mnemonic to derive the same address twice")
	}
}

func TestNewWalletFromMnemonic_RejectsInvalid(t *testing.T) {
	if _, err := NewWalletFromMnemonic("not a real mnemonic phrase at all"); err == nil {
		t.Fatalf("expected an invalid mnemonic to be rejected")
	}
}

func TestSignTransaction_VerifiesOK(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	var to core.Address
	to[0] = 0x02
	tx := &core.Transaction{From: w.Address, To: to, Amount: 100, Nonce: 0}
	w.SignTransaction(tx)

	if !tx.Verify() {
		t.Fatalf("expected signed transaction to verify")
	}
}

func TestKeystore_RoundTrip(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keystore.json")

	if err := SaveWalletToFile(w, "correct horse", path); err != nil {
		t.Fatalf("SaveWalletToFile: %v", err)
	}
	if !WalletExists(path) {
		t.Fatalf("expected keystore file to exist after save")
	}

	loaded, err := LoadWalletFromFile("correct horse", path)
	if err != nil {
		t.Fatalf("LoadWalletFromFile: %v", err)
	}
	if loaded.Address != w.Address {
		t.Fatalf("loaded address = %s, want %s", loaded.Address.Hex(), w.Address.Hex())
	}
}

func TestKeystore_WrongPasswordRejected(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keystore.json")
	if err := SaveWalletToFile(w, "right password", path); err != nil {
		t.Fatalf("SaveWalletToFile: %v", err)
	}

	if _, err := LoadWalletFromFile("wrong password", path); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
}

func TestWalletExists_FalseForMissingFile(t *testing.T) {
	if WalletExists(filepath.Join(t.TempDir(), "nope.json")) {
		t.Fatalf("expected a nonexistent path to report false")
	}
}
