package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "ratebook/native/common"
	"ratebook/native/pools"
	"ratebook/native/positions"
	"ratebook/observability"
	"ratebook/observability/logging"
	"ratebook/services/poolsd/eventlog"
)

type poolEngine interface {
	Pool(id common.Hash) (*pools.Pool, error)
	Pools() ([]*pools.Pool, error)
	TickAmounts(id common.Hash, rate *big.Int) (*pools.TickAmounts, error)
	Borrow(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, to common.Address, amount *big.Int) (*pools.BorrowResult, error)
	Repay(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash) (*pools.RepayResult, error)
	CollectFees(ctx context.Context, poolID common.Hash) error
	CreatePool(ctx context.Context, auth nativecommon.Authorization, name string, params pools.PoolParameters) (common.Hash, error)
	AllowBorrower(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, borrower common.Address) error
	DisallowBorrower(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, borrower common.Address) error
	TopUpLiquidityRewards(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, amount *big.Int) error
	ClosePool(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, to common.Address) (*big.Int, error)
	SetDefault(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash) error
	UpdateParameters(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, update pools.ParameterUpdate) error
	ClaimProtocolFees(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, amount *big.Int, to common.Address) (*big.Int, error)
	Pause(ctx context.Context, auth nativecommon.Authorization) error
	Unpause(ctx context.Context, auth nativecommon.Authorization) error
}

type positionLedger interface {
	Deposit(ctx context.Context, caller common.Address, poolID common.Hash, rate *big.Int, token common.Address, amount *big.Int) (*positions.Position, error)
	Withdraw(ctx context.Context, caller common.Address, id uint64) (*positions.WithdrawResult, error)
	UpdateRate(ctx context.Context, caller common.Address, id uint64, newRate *big.Int) (*positions.Position, error)
	Transfer(ctx context.Context, caller common.Address, id uint64, to common.Address) error
	Position(id uint64) (*positions.Position, error)
	PositionsOf(owner common.Address) ([]uint64, error)
	PositionRepartition(id uint64) (*positions.Repartition, error)
	WithdrawPreview(id uint64) (*pools.WithdrawAmounts, error)
	TokenURI(id uint64, symbol string) (string, error)
}

type tokenBank interface {
	BalanceOf(asset, owner common.Address) (*big.Int, error)
	Mint(asset, to common.Address, amount *big.Int) error
}

type eventSource interface {
	List(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error)
}

// Config wires the HTTP surface to the engine and ledger.
type Config struct {
	Engine poolEngine
	Ledger positionLedger
	// Events is optional; /v1/events answers 404 without it.
	Events eventSource
	// Bank is optional; it backs the balance and mint endpoints.
	Bank tokenBank

	JWTSecret string
	Issuer    string

	RequestsPerMinute int
	Burst             int
	Quota             nativecommon.Quota

	Logger *slog.Logger
	Now    func() time.Time
}

// Server exposes pools and positions over JSON.
type Server struct {
	engine  poolEngine
	ledger  positionLedger
	events  eventSource
	bank    tokenBank
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	now     func() time.Time
	router  http.Handler

	// mu serializes mutations: engine and ledger share one state journal.
	mu sync.RWMutex
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	auth, err := newAuthenticator(cfg.JWTSecret, cfg.Issuer, cfg.Now)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		engine:  cfg.Engine,
		ledger:  cfg.Ledger,
		events:  cfg.Events,
		bank:    cfg.Bank,
		auth:    auth,
		limiter: newRateLimiter(cfg.RequestsPerMinute, cfg.Burst, cfg.Quota, cfg.Now),
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.middleware)
		api.Use(s.limiter.middleware)
		api.Use(s.serialize)

		api.Get("/pools", s.listPools)
		api.Get("/pools/{poolID}", s.getPool)
		api.Get("/pools/{poolID}/ticks/{rate}", s.getTick)
		api.Get("/positions/{id}", s.getPosition)
		api.Get("/positions/{id}/metadata", s.getPositionMetadata)
		api.Get("/accounts/{address}/positions", s.listAccountPositions)
		api.Get("/accounts/{address}/balances/{token}", s.getBalance)
		api.Get("/events", s.listEvents)
		api.Post("/pools/{poolID}/collect", s.collectFees)

		api.Group(func(authed chi.Router) {
			authed.Use(requireCaller)
			authed.Post("/pools/{poolID}/borrow", s.borrow)
			authed.Post("/pools/{poolID}/repay", s.repay)
			authed.Post("/pools/{poolID}/rewards", s.topUpRewards)
			authed.Post("/positions", s.deposit)
			authed.Post("/positions/{id}/withdraw", s.withdraw)
			authed.Post("/positions/{id}/rate", s.updateRate)
			authed.Post("/positions/{id}/transfer", s.transfer)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireRole(nativecommon.RoleGovernance))
			admin.Post("/pools", s.createPool)
			admin.Post("/pools/{poolID}/borrower", s.setBorrower)
			admin.Post("/pools/{poolID}/close", s.closePool)
			admin.Post("/pools/{poolID}/default", s.setDefault)
			admin.Post("/pools/{poolID}/params", s.updateParams)
			admin.Post("/pools/{poolID}/fees", s.claimFees)
			admin.Post("/mint", s.mint)
			admin.Post("/pause", s.pause)
			admin.Post("/unpause", s.unpause)
		})
	})

	return otelhttp.NewHandler(r, "poolsd")
}

func (s *Server) serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			s.mu.RLock()
			defer s.mu.RUnlock()
		} else {
			s.mu.Lock()
			defer s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Duration("duration", s.now().Sub(start)),
		}
		if auth, ok := authFrom(r.Context()); ok {
			attrs = append(attrs, slog.String("caller", auth.Caller.Hex()))
		}
		if header := r.Header.Get("Authorization"); header != "" {
			attrs = append(attrs, logging.MaskField("authorization", header))
		}
		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request", attrs...)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		observability.PoolMetrics().ObserveRequest(r.Method+" "+route, ww.Status())
	})
}

// observe records an engine call and refreshes the pool gauges on success.
func (s *Server) observe(operation string, poolID common.Hash, start time.Time, err error) {
	observability.PoolMetrics().ObserveOperation(operation, err, s.now().Sub(start))
	if err != nil || poolID == (common.Hash{}) {
		return
	}
	pool, perr := s.engine.Pool(poolID)
	if perr != nil {
		return
	}
	observability.PoolMetrics().SetPoolGauges(pool.Name, pool.State.NormalizedAvailableDeposits,
		pool.State.NormalizedBorrowedAmount, pool.State.RemainingAdjustedLiquidityRewardsReserve)
}
