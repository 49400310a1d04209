// Package poolsd runs the rate-bid lending pool daemon.
package poolsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"

	"ratebook/config"
	"ratebook/core/events"
	"ratebook/core/state"
	"ratebook/crypto"
	nativecommon "ratebook/native/common"
	"ratebook/native/pools"
	"ratebook/native/positions"
	"ratebook/native/vault"
	"ratebook/observability"
	"ratebook/observability/logging"
	telemetry "ratebook/observability/otel"
	"ratebook/services/poolsd/eventlog"
	"ratebook/services/poolsd/server"
	"ratebook/storage"
)

const (
	serviceName          = "poolsd"
	defaultConfigPath    = "poolsd.toml"
	defaultCustodyLabel  = "ratebook/vault-custody"
	defaultTokenLifetime = time.Hour
)

// Main dispatches the daemon or the token subcommand.
func Main(args []string) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], os.Stdout)
	}
	return run(args)
}

func run(args []string) error {
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	cfgPath := flags.StringP("config", "c", defaultConfigPath, "path to the poolsd config (TOML, or YAML by extension)")
	listen := flags.String("listen", "", "override the listen address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listen != "" {
		cfg.Server.ListenAddress = *listen
	}

	logger, logCloser := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	mgr := state.NewManager(db)

	bank := vault.NewBank(mgr)
	custody, err := custodyAddress(cfg.Vault)
	if err != nil {
		return err
	}
	reserve := vault.NewReserve(mgr, bank, custody)
	for _, asset := range cfg.Vault.Assets {
		token, apr, err := asset.Parse()
		if err != nil {
			return fmt.Errorf("vault asset: %w", err)
		}
		if err := reserve.ConfigureAsset(token, apr); err != nil {
			return fmt.Errorf("configure vault asset %s: %w", token.Hex(), err)
		}
	}

	var sink events.Multi
	var eventLog *eventlog.Log
	if cfg.EventLog.Driver != "" {
		if eventLog, err = eventlog.Open(cfg.EventLog.Driver, cfg.EventLog.DSN, logger); err != nil {
			return err
		}
		defer func() { _ = eventLog.Close() }()
		sink = append(sink, eventLog)
	}
	sink = append(sink, eventLogger{logger: logger})
	emitter := observability.CountingEmitter{Next: sink}

	pauses := nativecommon.NewPauseSwitch(mgr)
	engine := pools.NewEngine()
	engine.SetState(mgr)
	engine.SetYieldProvider(reserve)
	engine.SetPauses(pauses)
	engine.SetEmitter(emitter)

	ledgerAddr, err := cfg.LedgerAddress()
	if err != nil {
		return fmt.Errorf("position ledger: %w", err)
	}
	ledger := positions.NewLedger(ledgerAddr)
	ledger.SetState(mgr)
	ledger.SetEngine(engine)
	ledger.SetPauses(pauses)
	ledger.SetEmitter(emitter)

	if err := bootstrapPools(context.Background(), engine, cfg.Pools, logger); err != nil {
		return err
	}

	srvCfg := server.Config{
		Engine:            engine,
		Ledger:            ledger,
		Bank:              bank,
		JWTSecret:         cfg.Auth.Secret(),
		Issuer:            cfg.Auth.Issuer,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quota.MaxRequestsPerEpoch,
			EpochSeconds:        cfg.Quota.EpochSeconds,
		},
		Logger: logger,
	}
	if eventLog != nil {
		srvCfg.Events = eventLog
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSecs) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("poolsd listening", "address", cfg.Server.ListenAddress, "storage", cfg.Storage.Backend)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func custodyAddress(v config.Vault) (common.Address, error) {
	if strings.TrimSpace(v.Custody) == "" {
		return common.BytesToAddress(ethcrypto.Keccak256([]byte(defaultCustodyLabel))), nil
	}
	addr, err := crypto.ParseAddress(v.Custody)
	if err != nil {
		return common.Address{}, fmt.Errorf("vault custody: %w", err)
	}
	return addr, nil
}

// bootstrapPools creates configured pools that do not exist yet.
func bootstrapPools(ctx context.Context, engine *pools.Engine, defs []config.PoolDefinition, logger *slog.Logger) error {
	if len(defs) == 0 {
		return nil
	}
	gov := nativecommon.NewAuthorization(common.Address{}, nativecommon.RoleGovernance)
	for _, def := range defs {
		params, err := def.Parameters()
		if err != nil {
			return fmt.Errorf("pool %q: %w", def.Name, err)
		}
		borrower, err := def.BorrowerAddress()
		if err != nil {
			return fmt.Errorf("pool %q borrower: %w", def.Name, err)
		}
		id, err := engine.CreatePool(ctx, gov, def.Name, params)
		switch {
		case errors.Is(err, pools.ErrPoolExists):
			logger.Debug("pool already exists", "pool", def.Name)
			continue
		case err != nil:
			return fmt.Errorf("create pool %q: %w", def.Name, err)
		}
		logger.Info("pool created", "pool", def.Name, "id", id.Hex())
		if borrower != (common.Address{}) {
			if err := engine.AllowBorrower(ctx, gov, id, borrower); err != nil {
				return fmt.Errorf("bind borrower of %q: %w", def.Name, err)
			}
		}
	}
	return nil
}

// eventLogger mirrors emitted events into the structured log.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil {
		return
	}
	attrs := make([]any, 0, 2*len(payload.Attributes)+2)
	attrs = append(attrs, "event_type", payload.Type)
	for k, v := range payload.Attributes {
		attrs = append(attrs, k, v)
	}
	l.logger.Debug("event", attrs...)
}
