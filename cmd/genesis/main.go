// Command genesis implements `genesis init` and `genesis add-validator`
// as two explicit subcommands over pkg/genesis.File. It only shapes the
// genesis document; keypairs are the separate keygen command's job.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"trv-chain/pkg/core"
	"trv-chain/pkg/genesis"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "add-validator":
		runAddValidator(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  genesis init --chain-id ID --output FILE [--treasury HEX] [--genesis-time UNIX]")
	fmt.Fprintln(os.Stderr, "  genesis add-validator --genesis FILE --pubkey HEX --stake N [--commission BPS] [--tier NAME]")
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	chainID := fs.String("chain-id", "", "unique chain identifier")
	output := fs.String("output", "", "path to write the genesis file")
	treasuryHex := fs.String("treasury", "", "hex address credited with the treasury's share of every block's fees")
	genesisTime := fs.Int64("genesis-time", 0, "genesis time as a Unix timestamp (defaults to now if zero)")
	_ = fs.Parse(args)

	if *chainID == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "genesis init: --chain-id and --output are required")
		os.Exit(1)
	}

	var treasury core.Address
	if *treasuryHex != "" {
		addr, err := core.AddressFromHex(*treasuryHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "genesis init: invalid --treasury: %v\n", err)
			os.Exit(1)
		}
		treasury = addr
	}

	ts := *genesisTime
	if ts == 0 {
		ts = time.Now().Unix()
	}

	f := genesis.New(*chainID, ts, treasury)

	if err := f.Save(*output); err != nil {
		fmt.Fprintf(os.Stderr, "genesis init: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote unsealed genesis file for chain %q to %s\n", *chainID, *output)
	fmt.Println("add at least one validator with `genesis add-validator`; the genesis_hash is computed and written once a validator is added.")
}

func runAddValidator(args []string) {
	fs := flag.NewFlagSet("add-validator", flag.ExitOnError)
	genesisPath := fs.String("genesis", "", "path to the genesis file to modify")
	pubkeyHex := fs.String("pubkey", "", "validator pubkey, hex-encoded")
	stake := fs.Uint64("stake", 0, "validator self-stake, in the chain's smallest unit")
	commissionBps := fs.Uint("commission", 0, "commission rate in basis points (0-10000)")
	tier := fs.String("tier", "NoLock", "lock tier the self-stake is bonded under")
	_ = fs.Parse(args)

	if *genesisPath == "" || *pubkeyHex == "" || *stake == 0 {
		fmt.Fprintln(os.Stderr, "genesis add-validator: --genesis, --pubkey, and --stake are required")
		os.Exit(1)
	}

	f, err := genesis.Load(*genesisPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genesis add-validator: %v\n", err)
		os.Exit(1)
	}

	f.AddValidator(*pubkeyHex, *stake, uint32(*commissionBps), *tier)

	if err := f.Seal(); err != nil {
		fmt.Fprintf(os.Stderr, "genesis add-validator: resulting genesis file is invalid: %v\n", err)
		os.Exit(1)
	}

	if err := f.Save(*genesisPath); err != nil {
		fmt.Fprintf(os.Stderr, "genesis add-validator: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("added validator %s (stake=%d, commission_bps=%d, tier=%s) to %s\n", *pubkeyHex, *stake, *commissionBps, *tier, *genesisPath)
}
