// witnessd runs the witnessing pipelines for the chains enabled in its
// configuration. The EVM wiring below is complete; ledger connectivity (the
// epoch feed and extrinsic submission) is stubbed with a single development
// epoch and a logging submitter until the ledger client lands.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/chains/evm"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/checkpoint"
	"github.com/chainswap/witness/pkg/epochsource"
	"github.com/chainswap/witness/pkg/infoserver"
	"github.com/chainswap/witness/pkg/monitoring"
)

// loggingSubmitter stands in for the ledger extrinsic client: every call is
// logged instead of submitted.
type loggingSubmitter struct {
	lggr *zap.SugaredLogger
}

func (s *loggingSubmitter) Submit(_ context.Context, call witness.LedgerCall, epochIndex uint32) error {
	s.lggr.Infow("would submit ledger call",
		"pallet", call.Pallet, "call", call.Call, "epoch", epochIndex, "args", call.Args)
	return nil
}

// staticAddresses is a fixed registered deposit-address set, seeded from
// configuration.
type staticAddresses map[common.Address]struct{}

func (a staticAddresses) ActiveAddresses(context.Context) (map[common.Address]struct{}, error) {
	return a, nil
}

// closer is anything started by this process that needs a graceful stop.
type closer interface {
	Close() error
}

func main() {
	lggr, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugared := lggr.Sugar()
	defer func() { _ = sugared.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	filePath := "witnessd.toml"
	if len(os.Args) > 1 {
		filePath = os.Args[1]
	}
	if envConfig := os.Getenv("WITNESSD_CONFIG"); envConfig != "" {
		filePath = envConfig
	}
	cfg, err := witness.LoadConfig(filePath)
	if err != nil {
		sugared.Errorw("failed to load configuration", "path", filePath, "error", err)
		os.Exit(1)
	}

	mon, err := monitoring.InitMonitoring(ctx, cfg.Monitoring, cfg.NodeID)
	if err != nil {
		sugared.Errorw("failed to initialise monitoring", "error", err)
		os.Exit(1)
	}

	sqliteStore, err := checkpoint.NewSQLiteStore(cfg.CheckpointDBPath, sugared)
	if err != nil {
		sugared.Errorw("failed to open checkpoint store", "path", cfg.CheckpointDBPath, "error", err)
		os.Exit(1)
	}
	store := checkpoint.NewMonitoredStore(sqliteStore, mon.Metrics())
	latency := monitoring.NewBlockLatencyTracker(sugared, mon)

	var enabledChains []string
	for name, chainCfg := range cfg.Chains {
		if chainCfg.Enabled {
			enabledChains = append(enabledChains, name)
		}
	}

	var infoSrv *infoserver.Server
	if cfg.InfoServerAddr != "" {
		infoSrv = infoserver.New(cfg.InfoServerAddr, cfg.NodeID, enabledChains, sqliteStore, sugared)
		go func() {
			if err := infoSrv.Start(); err != nil && err != http.ErrServerClosed {
				sugared.Errorw("info server error", "error", err)
			}
		}()
	}

	var closers []closer
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		switch name {
		case "ethereum":
			started, err := startEthereum(ctx, name, chainCfg, cfg, store, latency, mon, sugared)
			if err != nil {
				sugared.Errorw("failed to start chain", "chain", name, "error", err)
				os.Exit(1)
			}
			closers = append(closers, started...)
		default:
			sugared.Warnw("no driver wiring for chain, skipping", "chain", name)
		}
	}
	if len(closers) == 0 {
		sugared.Errorw("no chains started, check the [chains] configuration")
		os.Exit(1)
	}

	if infoSrv != nil {
		infoSrv.SetPhase(infoserver.PhaseWitnessing)
	}
	sugared.Infow("witnessd started", "nodeID", cfg.NodeID, "chains", enabledChains)

	<-sigCh
	sugared.Infow("shutdown signal received, stopping")

	cancel()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			sugared.Errorw("close error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if infoSrv != nil {
		if err := infoSrv.Shutdown(shutdownCtx); err != nil {
			sugared.Errorw("info server shutdown error", "error", err)
		}
	}
	if err := mon.Shutdown(shutdownCtx); err != nil {
		sugared.Errorw("monitoring shutdown error", "error", err)
	}
	if err := sqliteStore.Close(); err != nil {
		sugared.Errorw("checkpoint store close error", "error", err)
	}

	sugared.Infow("witnessd stopped")
}

// startEthereum wires the full EVM pipeline: a reorg-aware header source over
// one RPC client, deposit and vault witnessers against the configured
// contracts, and a time-chunked chain tracker sharing a second tip-polling
// source.
func startEthereum(
	ctx context.Context,
	name string,
	chainCfg witness.ChainConfig,
	cfg witness.Config,
	store checkpoint.Store,
	latency witness.BlockLatencyTracker,
	mon witness.Monitoring,
	lggr *zap.SugaredLogger,
) ([]closer, error) {
	assets := make(map[common.Address]string, len(chainCfg.Tokens))
	for addr, asset := range chainCfg.Tokens {
		assets[common.HexToAddress(addr)] = asset
	}
	deposits := make(staticAddresses, len(chainCfg.DepositAddresses))
	for _, addr := range chainCfg.DepositAddresses {
		deposits[common.HexToAddress(addr)] = struct{}{}
	}
	vaultContract := common.HexToAddress(chainCfg.VaultContract)

	watched := make([]common.Address, 0, len(assets)+1)
	for addr := range assets {
		watched = append(watched, addr)
	}
	watched = append(watched, vaultContract)

	client, err := evm.DialClient(ctx, chainCfg.RPCURL, watched)
	if err != nil {
		return nil, err
	}

	// Development epoch feed: one epoch, active from the current tip. The
	// real feed comes from the ledger's epoch events.
	tip, err := client.BestBlockHeader(ctx)
	if err != nil {
		return nil, err
	}
	feed := make(chan epochsource.Event, 1)
	feed <- epochsource.Event{
		Kind:       epochsource.EventNewCurrent,
		EpochIndex: 1,
		Info:       epochsource.VaultInfo{ActiveFromBlock: tip.Index},
	}
	epochs := epochsource.NewSource(ctx, feed, lggr)

	submitter := &loggingSubmitter{lggr: lggr.With("chain", name)}

	coordinator, err := witness.NewCoordinator(
		witness.WithChain[common.Hash, []ethtypes.Log](name),
		witness.WithSource[common.Hash, []ethtypes.Log](
			chainsource.NewReorgAwareSource[common.Hash, []ethtypes.Log](client, chainCfg.PollInterval.Duration, lggr)),
		witness.WithVaults[common.Hash, []ethtypes.Log](epochs.Vaults()),
		witness.AddWitnesser[common.Hash, []ethtypes.Log](evm.NewDepositWitnesser(deposits, assets)),
		witness.AddWitnesser[common.Hash, []ethtypes.Log](evm.NewVaultWitnesser(vaultContract)),
		witness.WithSubmitter[common.Hash, []ethtypes.Log](submitter),
		witness.WithCheckpointStore[common.Hash, []ethtypes.Log](store),
		witness.WithSafetyMargin[common.Hash, []ethtypes.Log](chainCfg.SafetyMargin),
		witness.WithCheckpointFlushInterval[common.Hash, []ethtypes.Log](cfg.CheckpointFlushInterval.Duration),
		witness.WithLogger[common.Hash, []ethtypes.Log](lggr),
		witness.WithMonitoring[common.Hash, []ethtypes.Log](mon),
		witness.WithBlockLatencyTracker[common.Hash, []ethtypes.Log](latency),
	)
	if err != nil {
		return nil, err
	}
	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}
	closers := []closer{coordinator}

	if chainCfg.TrackingPeriod.Duration > 0 {
		tracker, err := witness.NewChainTracker(
			name,
			chainsource.NewPollingSource[common.Hash, []ethtypes.Log](client, chainCfg.PollInterval.Duration, lggr),
			epochs,
			chainCfg.TrackingPeriod.Duration,
			client.TrackChainState,
			evm.ChainStateCall,
			submitter,
			lggr,
			mon,
		)
		if err != nil {
			_ = coordinator.Close()
			return nil, err
		}
		if err := tracker.Start(ctx); err != nil {
			_ = coordinator.Close()
			return nil, err
		}
		closers = append(closers, tracker)
	}

	return closers, nil
}
