package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/samuel0642/txengine/internal/config"
	"github.com/samuel0642/txengine/internal/logging"
	"github.com/samuel0642/txengine/internal/metrics"
	"github.com/samuel0642/txengine/internal/pow"
	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/storage"
	"github.com/samuel0642/txengine/internal/transaction"
)

// app holds the process wide handles. The store is opened once per
// process and shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pow      *pow.Engine

	store  storage.Store
	ledger *state.StoreLedger
	index  *storage.TxIndex

	metricsSrv *http.Server
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

// setup builds the logger, metrics and proof-of-work engine. The store is
// only opened when withStore is set.
func (a *app) setup(cfgPath string, withStore bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []pow.Option{
		pow.WithDifficulty(cfg.Pow.Difficulty),
		pow.WithWorkers(cfg.Pow.Workers),
		pow.WithLogger(a.logger),
		pow.WithMetrics(a.metrics),
	}
	if cfg.Pow.MaxAttempts > 0 {
		opts = append(opts, pow.WithMaxAttempts(cfg.Pow.MaxAttempts))
	}
	a.pow, err = pow.NewEngine(opts...)
	if err != nil {
		return err
	}

	if withStore {
		if err := a.openStore(); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled {
		a.serveMetrics()
	}
	return nil
}

func (a *app) openStore() error {
	var (
		store storage.Store
		err   error
	)
	if a.cfg.Storage.InMemory {
		store, err = storage.OpenBadgerInMemory(a.cfg.Storage.Namespace, a.logger)
	} else {
		store, err = storage.OpenBadger(a.cfg.Storage.Dir, a.cfg.Storage.Namespace, a.logger)
	}
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.store = store
	a.ledger = state.NewStoreLedger(store, a.logger)
	a.index = storage.NewTxIndex(store)
	return nil
}

func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("listen", a.cfg.Metrics.Listen))
}

// close releases everything setup acquired
func (a *app) close() error {
	var errs []error
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
		cancel()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logger != nil {
		// stderr sync fails on some terminals
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) fees() (*transaction.FeePolicy, error) {
	return transaction.NewFeePolicy(a.cfg.Fees)
}

func (a *app) validator(ledger state.Ledger, index transaction.CommitIndex, mempool transaction.Mempool) (*transaction.Validator, error) {
	fees, err := a.fees()
	if err != nil {
		return nil, err
	}
	return transaction.NewValidator(transaction.Deps{
		Mempool:    mempool,
		Index:      index,
		Ledger:     ledger,
		PoW:        a.pow,
		Governance: a.cfg.Chain.Governance,
		Fees:       fees,
		Contracts:  transaction.NewContracts(),
	}, a.logger, a.metrics)
}

func (a *app) executor(index transaction.Recorder) (*transaction.Executor, error) {
	fees, err := a.fees()
	if err != nil {
		return nil, err
	}
	return transaction.NewExecutor(transaction.ExecutorDeps{
		Index:        index,
		Fees:         fees,
		Contracts:    transaction.NewContracts(),
		SlashPercent: a.cfg.Chain.SlashPercent,
	}, a.logger, a.metrics)
}

func (a *app) genesis() state.Genesis {
	return state.Genesis{
		Accounts:   a.cfg.Genesis.Accounts,
		Validators: a.cfg.Genesis.Validators,
		Contracts:  a.cfg.Genesis.Contracts,
	}
}
