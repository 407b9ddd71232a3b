// Command pisa runs the PISA watchtower response core: it watches a
// chain for new blocks, tracks appointments through the block state
// machine, and keeps a gas queue of in-flight response transactions
// per signer. Its flag/command structure is grounded on the teacher's
// cmd/kcn/main.go: one urfave/cli app, one Action, config loaded
// before the node-equivalent (here, the response core) starts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli"

	"github.com/klaytn-watchtower/pisa/blockcache"
	"github.com/klaytn-watchtower/pisa/blockprocessor"
	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/config"
	"github.com/klaytn-watchtower/pisa/gasprice"
	"github.com/klaytn-watchtower/pisa/kvstore"
	"github.com/klaytn-watchtower/pisa/logging"
	"github.com/klaytn-watchtower/pisa/responder"
	"github.com/klaytn-watchtower/pisa/statemachine"
	"github.com/klaytn-watchtower/pisa/store"
)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

var app = cli.NewApp()

func init() {
	app.Name = "pisa"
	app.Usage = "run the PISA response core"
	app.Flags = []cli.Flag{configFileFlag}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfgPath := cliCtx.String(configFileFlag.Name)
	var cfg config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return fmt.Errorf("pisa: load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	notifier, err := chain.DialEthNotifier(ctx, cfg.Chain.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("pisa: dial chain: %w", err)
	}

	db, err := openDatabase(cfg.Store)
	if err != nil {
		return fmt.Errorf("pisa: open store: %w", err)
	}
	defer db.Close()

	cache, err := blockcache.New(cfg.MaxReorgDepth, cfg.BlockCacheInitialHeight)
	if err != nil {
		return fmt.Errorf("pisa: create block cache: %w", err)
	}

	oracle := gasprice.NewOracle(notifier, cache, cfg.GasPrice.Window, cfg.GasPrice.Percentile)

	components := make([]statemachine.Component, 0, len(cfg.Responders))

	for _, rc := range cfg.Responders {
		key, err := crypto.LoadECDSA(rc.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("pisa: load signer key %s: %w", rc.SignerKeyFile, err)
		}
		signer := chain.NewLocalSigner(key, cfg.Chain.ChainID)

		rstore := store.New(db, signer.Address(), rc.EmptyNonce, rc.ReplacementRatePercent, rc.MaxQueueDepth)

		r, err := responder.New(ctx, responder.Config{
			EmptyNonce:             rc.EmptyNonce,
			ReplacementRatePercent: rc.ReplacementRatePercent,
			MaxDepth:               rc.MaxQueueDepth,
			LowBalanceThreshold:    rc.LowBalanceThreshold,
			ConfirmationsRequired:  rc.ConfirmationsRequired,
		}, oracle, rstore, &responder.Broadcaster{Notifier: notifier, Signer: signer})
		if err != nil {
			return fmt.Errorf("pisa: start responder %s: %w", signer.Address(), err)
		}

		components = append(components, responder.Bind(signer.Address().Hex(), signer.Address(), cache, r, rc.ConfirmationsRequired, r))
	}

	actionStore, err := newMachineActionStore(db, cfg)
	if err != nil {
		return fmt.Errorf("pisa: open action store: %w", err)
	}
	machine := statemachine.New(cache, actionStore, components)

	processor := blockprocessor.New(notifier, cache, cfg.MaxBackfillBlocks)
	if err := processor.Prime(ctx); err != nil {
		return fmt.Errorf("pisa: prime block processor: %w", err)
	}

	blocks := make(chan blockprocessor.NewBlockEvent, 64)
	heads := make(chan blockprocessor.NewHeadEvent, 16)
	processor.SubscribeNewBlock(blocks)
	processor.SubscribeNewHead(heads)

	if err := machine.Replay(ctx); err != nil {
		return fmt.Errorf("pisa: replay pending actions: %w", err)
	}

	go func() {
		if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
			logging.L.Errorw("block processor stopped", "err", err)
		}
	}()

	var prevHead chain.Hash
	haveHead := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-blocks:
			machine.OnNewBlock(ev.Block)
		case ev := <-heads:
			if b, err := cache.GetBlock(ev.Hash); err == nil {
				oracle.UpdateHead(b)
			}
			if haveHead {
				if err := machine.OnNewHead(ctx, prevHead, ev.Hash); err != nil {
					// Keep prevHead so the next head re-runs the transition
					// from the same starting state.
					logging.L.Errorw("head transition failed, will retry next head", "err", err)
					continue
				}
			}
			prevHead = ev.Hash
			haveHead = true
		}
	}
}

// newMachineActionStore builds the one statemachine.ActionStore the
// Machine persists every component's pending actions through. A single
// store suffices for any number of responder components: each
// PersistedAction already carries its owning component's name, so one
// namespace ("machine") is enough to disambiguate them on replay.
func newMachineActionStore(db kvstore.Database, cfg config.Config) (statemachine.ActionStore, error) {
	if len(cfg.Responders) == 0 {
		return statemachine.NewMemActionStore(), nil
	}
	return store.NewActionStore(db, "machine")
}

func openDatabase(cfg config.StoreConfig) (kvstore.Database, error) {
	switch cfg.Backend {
	case "badger":
		return kvstore.OpenBadgerDB(cfg.Path)
	case "leveldb", "":
		return kvstore.OpenLevelDB(cfg.Path)
	default:
		return nil, fmt.Errorf("pisa: unknown store backend %q", cfg.Backend)
	}
}
