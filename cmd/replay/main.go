package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"launch-ladder-bot/internal/chain"
	"launch-ladder-bot/internal/config"
	"launch-ladder-bot/internal/launch"
	"launch-ladder-bot/internal/logging"
)

// replay decodes historical factory logs over a block range and prints each
// launch as one JSON line. Useful for checking a factory address and block
// window before pointing the bot at them.

type launchLine struct {
	Token       string `json:"token"`
	Creator     string `json:"creator"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	BlockTime   string `json:"block_time,omitempty"`
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	fromBlock := flag.Uint64("from", 0, "first block of the range")
	toBlock := flag.Uint64("to", 0, "last block of the range (0 = current head)")
	withTimes := flag.Bool("times", false, "resolve block timestamps (one RPC call per launch)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.MaxBlockRange, cfg.Chain.CallTimeout, log)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	to := *toBlock
	if to == 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			fatal(err)
		}
		to = head
	}
	if *fromBlock > to {
		fatal(fmt.Errorf("from block %d is past to block %d", *fromBlock, to))
	}

	factory := common.HexToAddress(cfg.Chain.FactoryAddress)
	logs, err := client.FilterLogs(ctx, factory, *fromBlock, to)
	if err != nil {
		fatal(err)
	}

	encoder := json.NewEncoder(os.Stdout)
	decoded := 0
	for _, lg := range logs {
		ev, ok := launch.Decode(lg)
		if !ok {
			continue
		}
		decoded++
		line := launchLine{
			Token:       ev.Token.Hex(),
			Creator:     ev.Creator.Hex(),
			Name:        ev.Name,
			Symbol:      ev.Symbol,
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash.Hex(),
		}
		if *withTimes {
			if blockTime, err := client.BlockTime(ctx, ev.BlockNumber); err == nil {
				line.BlockTime = blockTime.UTC().Format(time.RFC3339)
			}
		}
		if err := encoder.Encode(line); err != nil {
			fatal(err)
		}
	}
	fmt.Fprintf(os.Stderr, "scanned %d logs, decoded %d launches in blocks %d..%d\n", len(logs), decoded, *fromBlock, to)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "replay: %v\n", err)
	os.Exit(1)
}
