// Command minimintd runs one federation peer's wallet module standalone:
// it loads the genesis configuration, opens the local store, dials the
// configured Bitcoin node, and runs the peg-out broadcaster in the
// background while the walletmodule.Module waits to be driven by a host
// consensus loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/jkitman/minimint/internal/bitcoinrpc"
	"github.com/jkitman/minimint/internal/config"
	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/randbeacon"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/walletmodule"
)

func main() {
	configPath := flag.String("config", "minimint.toml", "path to the federation genesis configuration file")
	dbPath := flag.String("db", "minimint.sqlite3", "path to the local SQLite store")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	logging.SetLevel(*logLevel)

	if err := run(*configPath, *dbPath); err != nil {
		logging.Printf("minimintd: fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string) error {
	conf, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("minimintd: load config: %w", err)
	}

	fed, err := conf.Descriptor()
	if err != nil {
		return fmt.Errorf("minimintd: build descriptor: %w", err)
	}
	ourSecretKey, err := conf.SecretKey()
	if err != nil {
		return fmt.Errorf("minimintd: parse secret key: %w", err)
	}
	network, err := conf.NetworkParams()
	if err != nil {
		return fmt.Errorf("minimintd: resolve network: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("minimintd: open store: %w", err)
	}
	defer st.Close()

	rpc, err := bitcoinrpc.NewRPCClient(&rpcclient.ConnConfig{
		Host:         conf.BitcoinRPC.Endpoint,
		User:         conf.BitcoinRPC.User,
		Pass:         conf.BitcoinRPC.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, network)
	if err != nil {
		return fmt.Errorf("minimintd: dial bitcoin rpc: %w", err)
	}

	mod := walletmodule.New(walletmodule.Config{
		Store:            st,
		Federation:       fed,
		RPC:              rpc,
		RandSource:       randbeacon.CryptoRand{},
		Network:          network,
		OurPeer:          descriptor.PeerID(conf.OurPeer),
		OurSecretKey:     ourSecretKey,
		FinalityDelay:    conf.FinalityDelay,
		DefaultFeeRate:   conf.FeeRate(),
		PegInAbsFeeSats:  conf.FeeConsensus.PegInAbsSats,
		PegOutAbsFeeSats: conf.FeeConsensus.PegOutAbsSats,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Printf("minimintd: started peer=%d network=%s", conf.OurPeer, network.Name)
	mod.Broadcaster().Run(ctx)
	logging.Printf("minimintd: shutting down")
	return nil
}
