// Command primary runs one authority's consensus-core primary node: the
// header proposer, certifier, voter, synchronizer, and the Bullshark
// ordering stage, wired to an execution layer over the BuildHeader/
// BatchSource plugin points.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/config"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/executor"
	"github.com/telcoin-network/tn-consensus-core/primary"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

var log = xlog.New("cmd.primary")

func main() {
	app := &cli.App{
		Name:  "primary",
		Usage: "run a consensus-core primary node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "genesis", Required: true, Usage: "path to the epoch's genesis.yaml"},
			&cli.StringFlag{Name: "config", Value: "primary.toml", Usage: "path to a TOML config overriding defaults"},
			&cli.StringFlag{Name: "key", Required: true, Usage: "path to this authority's BLS consensus key"},
			&cli.Uint64Flag{Name: "authority", Required: true, Usage: "this node's AuthorityIdentifier"},
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:9000", Usage: "address to serve the primary RPC surface on"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	undoMaxProcs, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) { log.Debug(fmt.Sprintf(format, a...)) }))
	if err != nil {
		log.Warn("failed to set GOMAXPROCS from cgroup quota", "err", err)
	} else {
		defer undoMaxProcs()
	}

	genesisBytes, err := os.ReadFile(c.String("genesis"))
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}
	var genesis types.Genesis
	if err := yaml.Unmarshal(genesisBytes, &genesis); err != nil {
		return fmt.Errorf("parse genesis: %w", err)
	}
	comm, err := committee.FromGenesis(&genesis)
	if err != nil {
		return fmt.Errorf("build committee: %w", err)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	keyBytes, err := os.ReadFile(c.String("key"))
	if err != nil {
		return fmt.Errorf("read consensus key: %w", err)
	}
	signer, err := crypto.BLSPrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse consensus key: %w", err)
	}

	self := types.AuthorityIdentifier(c.Uint64("authority"))
	if _, ok := comm.Authority(self); !ok {
		return fmt.Errorf("authority %d not present in genesis committee", self)
	}

	kv, closeKV, err := openKV(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeKV()

	bus := eventbus.NewConsensusBus()
	defer bus.Shutdown()

	fetchBridge := &rpcBatchSource{transport: rpc.NewHTTPTransport(cfg.FetchRetryBackoff * 10), workerCache: committee.NewWorkerCache(genesis.Validators)}

	bridge, err := executor.New(kv, fetchBridge, comm)
	if err != nil {
		return fmt.Errorf("build executor bridge: %w", err)
	}

	p := primary.New(primary.Config{
		Self:                      self,
		Epoch:                     genesis.Epoch,
		Committee:                 comm,
		Leaders:                   comm,
		Signer:                    signer,
		Builder:                   noopHeaderBuilder{},
		Transport:                 rpc.NewHTTPTransport(cfg.FetchRetryBackoff * 10),
		KV:                        kv,
		WorkerSync:                noopWorkerSynchronizer{},
		MinHeaderDelay:            cfg.MinHeaderDelay,
		MaxHeaderDelay:            cfg.MaxHeaderDelay,
		HeaderResendDelay:         cfg.HeaderResendDelay,
		HeaderNumBatchesThreshold: cfg.HeaderNumOfBatchesThreshold,
		MaxHeaderNumOfBatches:     cfg.MaxHeaderNumOfBatches,
		MaxClockSkew:              cfg.MaxClockSkew,
		GCDepth:                   types.Round(cfg.GCDepth),
		MaxVoteRetries:            cfg.MaxFetchRetries,
	}, bus)

	server := rpc.NewServer("primary.rpc")
	p.RegisterRPC(server, bus)
	wsFeed := rpc.NewConsensusOutputFeed(bus)
	server.RegisterRaw("/subscribe/consensus-output", wsFeed.Handler())

	ctx, cancel := signal.NotifyContext(bus.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go p.Run(ctx, bus)
	go bridge.Run(ctx, bus)

	log.Info("primary listening", "authority", self, "addr", c.String("listen"))
	return server.ListenAndServe(ctx, c.String("listen"))
}

func openKV(sc config.StorageConfig) (storage.KV, func(), error) {
	var kv storage.KV
	switch sc.Backend {
	case "", "memory":
		kv = storage.NewMemKV()
	case "leveldb":
		lkv, err := storage.NewLevelKV(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb at %s: %w", sc.Path, err)
		}
		kv = lkv
	case "pebble":
		pkv, err := storage.NewPebbleKV(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble at %s: %w", sc.Path, err)
		}
		kv = pkv
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	return kv, func() { kv.Close() }, nil
}

// noopHeaderBuilder is the plugin-point stub used until an execution
// client is wired in over the BuildHeader interface; it proposes empty
// extra header material.
type noopHeaderBuilder struct{}

func (noopHeaderBuilder) BuildHeader(ctx context.Context, round types.Round, epoch types.Epoch, createdAt types.TimestampSec, payload []types.PayloadEntry, parents []types.CertificateDigest) ([]byte, error) {
	return nil, nil
}

// noopWorkerSynchronizer is the plugin-point stub for a single-worker
// deployment where payload digests are always already local.
type noopWorkerSynchronizer struct{}

func (noopWorkerSynchronizer) SynchronizePayload(ctx context.Context, digests []types.BatchDigest, target types.AuthorityIdentifier) error {
	return nil
}

// rpcBatchSource satisfies executor.BatchSource by fetching missing
// batches from whichever worker address the committee's WorkerCache
// names for the candidate authority, for the common case where the
// primary process has no local worker embedded.
type rpcBatchSource struct {
	transport   rpc.Transport
	workerCache *committee.WorkerCache
}

func (r *rpcBatchSource) Fetch(ctx context.Context, digests []types.BatchDigest, candidateAuthorities []types.AuthorityIdentifier) (map[types.BatchDigest]types.Batch, error) {
	out := make(map[types.BatchDigest]types.Batch, len(digests))
	for _, a := range candidateAuthorities {
		workers := r.workerCache.WorkersOf(a)
		for _, w := range workers {
			addr, err := r.workerCache.Address(a, w)
			if err != nil {
				continue
			}
			req := &rpc.FetchBatchesRequest{Digests: digests, KnownWorkers: []types.AuthorityIdentifier{a}}
			var resp rpc.FetchBatchesResponse
			if err := r.transport.Call(ctx, addr, "FetchBatches", req, &resp); err != nil {
				continue
			}
			for d, b := range resp.Batches {
				out[d] = b
			}
			if len(out) >= len(digests) {
				return out, nil
			}
		}
	}
	if len(out) < len(digests) {
		return out, types.NewError(types.KindNetwork, "primary: could not fetch all batches for committed certificate", nil)
	}
	return out, nil
}
