// Command keygen implements `keygen --output FILE`: it generates a
// fresh Ed25519 keypair, prints the public key, and writes an encrypted
// keystore to FILE under a password read from the terminal without
// echo via golang.org/x/term.ReadPassword.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"trv-chain/pkg/wallet"
)

func main() {
	output := flag.String("output", "", "path to write the encrypted keystore file")
	flag.Parse()

	if *output == "" {
		fmt.Fprintln(os.Stderr, "keygen: --output FILE is required")
		os.Exit(1)
	}
	if wallet.WalletExists(*output) {
		fmt.Fprintf(os.Stderr, "keygen: %s already exists, refusing to overwrite\n", *output)
		os.Exit(1)
	}

	w, err := wallet.NewWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: generate keypair: %v\n", err)
		os.Exit(1)
	}

	password, err := promptPassword("Keystore password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: read password: %v\n", err)
		os.Exit(1)
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: read password: %v\n", err)
		os.Exit(1)
	}
	if password != confirm {
		fmt.Fprintln(os.Stderr, "keygen: passwords do not match")
		os.Exit(1)
	}

	if err := wallet.SaveWalletToFile(w, password, *output); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: save keystore: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("secret key (hex): %x\n", w.PrivateKey.Seed())
	fmt.Printf("public key (hex): %x\n", []byte(w.PublicKey))
	fmt.Printf("keystore written to %s\n", *output)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
