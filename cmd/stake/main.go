// Command stake implements `stake --amount N --tier NAME`: it bonds
// stake for a local keystore's address directly against a node's data
// directory as an offline file operation, calling pkg/staking.Engine.Bond
// rather than going through any RPC connection.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"trv-chain/pkg/core"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/wallet"
)

func main() {
	dataDir := flag.String("data-dir", "", "node data directory containing the warm store")
	keystorePath := flag.String("keystore", "", "path to the keystore file identifying the staking owner")
	amount := flag.Uint64("amount", 0, "amount to bond, in the chain's smallest unit")
	tier := flag.String("tier", "", "staking tier name (schema-dependent)")
	schemaFlag := flag.String("schema", "A", "staking schema in effect for this chain (A or B)")
	validatorHex := flag.String("validator", "", "validator pubkey (hex) to bond to; defaults to the owner's own address for self-stake")
	epoch := flag.Uint64("epoch", 0, "current epoch number, recorded as the entry's bonded-at epoch")
	flag.Parse()

	if *dataDir == "" || *keystorePath == "" || *amount == 0 || *tier == "" {
		fmt.Fprintln(os.Stderr, "stake: --data-dir, --keystore, --amount, and --tier are required")
		os.Exit(1)
	}

	password, err := promptPassword("Keystore password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "stake: read password: %v\n", err)
		os.Exit(1)
	}
	w, err := wallet.LoadWalletFromFile(password, *keystorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stake: load keystore: %v\n", err)
		os.Exit(1)
	}

	validator := w.Address
	if *validatorHex != "" {
		validator, err = core.AddressFromHex(*validatorHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stake: invalid --validator: %v\n", err)
			os.Exit(1)
		}
	}

	schema := staking.Schema(*schemaFlag)
	if schema != staking.SchemaA && schema != staking.SchemaB {
		fmt.Fprintf(os.Stderr, "stake: --schema must be \"A\" or \"B\", got %q\n", *schemaFlag)
		os.Exit(1)
	}

	store, err := storage.OpenWarmStore(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stake: open data directory: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := staking.NewEngine(store, schema)
	if err := engine.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "stake: load existing stake entries: %v\n", err)
		os.Exit(1)
	}

	entry, err := engine.Bond(w.Address, validator, *amount, *tier, *epoch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stake: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("bonded %d to validator %s under tier %q (total bonded: %d)\n", *amount, validator.Hex(), *tier, entry.Amount)
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
