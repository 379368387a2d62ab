// Command worker runs one (authority, worker_id) batch-making slot: the
// batch maker, quorum waiter, store and fetcher, wired to an execution
// pool over the TransactionPool/ExecutionBuilder plugin points.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/config"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/worker"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

var log = xlog.New("cmd.worker")

func main() {
	app := &cli.App{
		Name:  "worker",
		Usage: "run a consensus-core worker node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "genesis", Required: true, Usage: "path to the epoch's genesis.yaml"},
			&cli.StringFlag{Name: "config", Value: "worker.toml", Usage: "path to a TOML config overriding defaults"},
			&cli.StringFlag{Name: "key", Required: true, Usage: "path to this authority's BLS consensus key (shared with the primary; used here to sign batch ACKs)"},
			&cli.Uint64Flag{Name: "authority", Required: true, Usage: "this node's AuthorityIdentifier"},
			&cli.Uint64Flag{Name: "worker-id", Required: true, Usage: "this node's WorkerID"},
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:9100", Usage: "address to serve the worker RPC surface on"},
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
	workerCache := committee.NewWorkerCache(genesis.Validators)

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
	workerID := types.WorkerID(c.Uint64("worker-id"))
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

	var policy worker.MiningPolicy = worker.InstantPolicy{}
	if cfg.BatchMiningPolicy == "interval" {
		policy = worker.IntervalPolicy{Interval: cfg.BatchMiningInterval}
	}

	w := worker.New(worker.Config{
		Self:               self,
		WorkerID:           workerID,
		Committee:          comm,
		WorkerCache:        workerCache,
		Signer:             signer,
		Transport:          rpc.NewHTTPTransport(cfg.FetchRetryBackoff * 10),
		KV:                 kv,
		Pool:               newLocalTransactionPool(),
		Builder:            passthroughExecutionBuilder{},
		Policy:             policy,
		MaxBatchTxs:        cfg.MaxBatchTransactions,
		Beneficiary:        authorityExecutionAddress(&genesis, self),
		MaxFetchRetries:    cfg.MaxFetchRetries,
		FetchBackoff:       cfg.FetchRetryBackoff,
		MaxResponseBatches: cfg.MaxResponseBatches,
		MaxBaseFee:         cfg.MaxBaseFee,
	})

	server := rpc.NewServer("worker.rpc")
	w.RegisterRPC(server)

	ctx, cancel := signal.NotifyContext(bus.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go w.Run(ctx, bus)

	log.Info("worker listening", "authority", self, "worker_id", workerID, "addr", c.String("listen"))
	return server.ListenAndServe(ctx, c.String("listen"))
}

func authorityExecutionAddress(g *types.Genesis, id types.AuthorityIdentifier) [20]byte {
	for _, v := range g.Validators {
		if v.AuthorityID == id {
			return v.ExecutionAddress
		}
	}
	return [20]byte{}
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

// localTransactionPool is the plugin-point stub TransactionPool used
// until an execution client submits transactions over a real RPC/IPC
// surface; it never signals pending work on its own.
type localTransactionPool struct {
	mu      sync.Mutex
	pending chan struct{}
	txs     [][]byte
}

func newLocalTransactionPool() *localTransactionPool {
	return &localTransactionPool{pending: make(chan struct{})}
}

func (p *localTransactionPool) Pending() <-chan struct{} { return p.pending }

func (p *localTransactionPool) Drain(maxTxs int) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.txs) > maxTxs {
		out := p.txs[:maxTxs]
		p.txs = p.txs[maxTxs:]
		return out
	}
	out := p.txs
	p.txs = nil
	return out
}

// passthroughExecutionBuilder is the plugin-point stub ExecutionBuilder:
// it reports the parent hash unchanged and a zero base fee, standing in
// until an execution client's block-building RPC is wired in.
type passthroughExecutionBuilder struct{}

func (passthroughExecutionBuilder) BuildBatchHeader(ctx context.Context, parentHash [32]byte, txs [][]byte) ([32]byte, uint64, error) {
	return parentHash, 0, nil
}
