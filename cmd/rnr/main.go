// Command rnr runs one validator node: it loads a genesis file and a
// keystore, opens the node's data directory, and starts consensus, the
// P2P transport, and the JSON-RPC server until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"trv-chain/pkg/genesis"
	"trv-chain/pkg/logging"
	"trv-chain/pkg/node"
	"trv-chain/pkg/utils"
	"trv-chain/pkg/wallet"

	"go.uber.org/zap"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "node data directory")
	genesisPath := flag.String("genesis", "", "path to the genesis file")
	keystorePath := flag.String("keystore", "", "path to this validator's keystore file")
	p2pPort := flag.Int("p2p-port", 6000, "libp2p listen port")
	rpcPort := flag.Int("rpc-port", 5000, "JSON-RPC listen port")
	logLevel := flag.String("log-level", "info", "zap log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "log encoding (json or text)")
	flag.Parse()

	if *genesisPath == "" || *keystorePath == "" {
		fmt.Fprintln(os.Stderr, "rnr: --genesis and --keystore are required")
		os.Exit(1)
	}

	format := logging.FormatJSON
	if *logFormat == "text" {
		format = logging.FormatText
	}
	log, err := logging.New(*logLevel, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rnr: configure logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gf, err := genesis.Load(*genesisPath)
	if err != nil {
		log.Fatal("load genesis file", zap.Error(err))
	}
	if ok, err := gf.VerifyHash(); err != nil || !ok {
		log.Fatal("genesis file failed hash verification", zap.Error(err), zap.Bool("matched", ok))
	}

	password, err := promptPassword("Keystore password: ")
	if err != nil {
		log.Fatal("read keystore password", zap.Error(err))
	}
	w, err := wallet.LoadWalletFromFile(password, *keystorePath)
	if err != nil {
		log.Fatal("load keystore", zap.Error(err))
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatal("create data directory", zap.Error(err))
	}

	log.Info("starting node",
		zap.String("chain_id", gf.ChainID),
		zap.String("self", w.Address.Hex()),
		zap.String("data_dir", *dataDir),
		zap.Int("p2p_port", *p2pPort),
		zap.Int("rpc_port", *rpcPort),
	)

	n, err := node.Open(log, node.Config{
		DataDir:    *dataDir,
		Self:       w.Address,
		PrivateKey: w.PrivateKey,
		P2PPort:    *p2pPort,
		RPCPort:    *rpcPort,
	}, gf)
	if err != nil {
		log.Fatal("initialize node", zap.Error(err))
	}

	shutdown := utils.NewShutdownManager(log, 10*time.Second)

	go func() {
		if err := n.Run(shutdown.Context()); err != nil {
			log.Error("node run loop exited with error", zap.Error(err))
		}
		shutdown.InitiateShutdown()
	}()

	<-shutdown.Context().Done()
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
