package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

// KeystoreFile is the on-disk encrypted-key format: scrypt KDF with a
// random salt per encryption, AES-256-GCM for the cipher. GCM's built-in
// authentication tag stands in for a separate MAC field.
type KeystoreFile struct {
	Address string `json:"address"`
	Crypto  Crypto `json:"crypto"`
	Version int    `json:"version"`
}

type Crypto struct {
	Cipher       string       `json:"cipher"`
	CipherText   string       `json:"ciphertext"`
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"`
	KDFParams    KDFParams    `json:"kdfparams"`
}

type CipherParams struct {
	Nonce string `json:"nonce"`
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	P     int    `json:"p"`
	R     int    `json:"r"`
	Salt  string `json:"salt"`
}

const (
	scryptN     = 32768
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32
)

// SaveWalletToFile encrypts w's private key under password and writes it
// to filepath as a KeystoreFile.
func SaveWalletToFile(w *Wallet, password, filepath string) error {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, w.PrivateKey.Seed(), nil)

	ks := KeystoreFile{
		Address: w.Address.Hex(),
		Version: 1,
		Crypto: Crypto{
			Cipher:       "aes-256-gcm",
			CipherText:   hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{Nonce: hex.EncodeToString(nonce)},
			KDF:          "scrypt",
			KDFParams: KDFParams{
				DKLen: scryptDKLen, N: scryptN, P: scryptP, R: scryptR,
				Salt: hex.EncodeToString(salt),
			},
		},
	}

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode keystore: %w", err)
	}
	return os.WriteFile(filepath, data, 0600)
}

// LoadWalletFromFile decrypts a KeystoreFile at filepath under password.
func LoadWalletFromFile(password, filepath string) (*Wallet, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var ks KeystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("decode keystore: %w", err)
	}

	salt, err := hex.DecodeString(ks.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), salt,
		ks.Crypto.KDFParams.N, ks.Crypto.KDFParams.R, ks.Crypto.KDFParams.P, ks.Crypto.KDFParams.DKLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	ciphertext, err := hex.DecodeString(ks.Crypto.CipherText)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Crypto.CipherParams.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: wrong password or corrupted file")
	}

	priv := newPrivateKeyFromSeed(seed)
	return fromPrivateKey(priv)
}

// WalletExists reports whether a keystore file is already present at
// filepath, so CLI commands can refuse to overwrite one silently.
func WalletExists(filepath string) bool {
	_, err := os.Stat(filepath)
	return err == nil
}
