package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bondledger/core"
	"bondledger/core/events"
	"bondledger/core/types"
	"bondledger/crypto"
	"bondledger/gateway/middleware"
	"bondledger/native/oracle"
	"bondledger/native/registry"
	"bondledger/storage/journal"
)

const maxBodyBytes = 1 << 20

// ScopeSubmit is the bearer scope required to submit envelopes when auth is
// enabled.
const ScopeSubmit = "tx:submit"

// Ledger is the executor surface the HTTP API needs.
type Ledger interface {
	Apply(ctx context.Context, env *types.Envelope) ([]events.Event, error)
	View(fn func(m *core.Modules) error) error
	Nonce(addr crypto.Address) (uint64, error)
}

// EventLog answers change-log queries.
type EventLog interface {
	Query(ctx context.Context, filter journal.Filter) ([]journal.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger Ledger
	// Journal may be nil, in which case /v1/events answers 503.
	Journal     EventLog
	Logger      *slog.Logger
	RateLimits  map[string]middleware.RateLimit
	CORS        middleware.CORSConfig
	LogRequests bool
	// Auth gates POST /v1/tx when set; queries stay public.
	Auth *middleware.Authenticator
	// Stream backs /v1/events/stream; nil answers 503. The executor's
	// emitter must include it.
	Stream *Hub
	// Registerer receives the HTTP collectors; Gatherer backs /metrics.
	// Both default to the prometheus process registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	ledger        Ledger
	journal       EventLog
	hub           *Hub
	streamOrigins []string
	logger        *slog.Logger
	router        http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	obs, err := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "bondd",
		LogRequests: cfg.LogRequests,
	}, cfg.Registerer, logger)
	if err != nil {
		return nil, fmt.Errorf("server: observability: %w", err)
	}
	srv := &Server{ledger: cfg.Ledger, journal: cfg.Journal, hub: cfg.Stream, logger: logger}
	srv.streamOrigins = originHosts(cfg.CORS.AllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.RateLimits, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.With(limiter.Middleware("tx"), cfg.Auth.Middleware(ScopeSubmit), obs.Middleware("tx")).Post("/tx", srv.submit)
		api.Group(func(q chi.Router) {
			q.Use(limiter.Middleware("query"))
			q.With(obs.Middleware("bond")).Get("/bonds/{bond}", srv.getBond)
			q.With(obs.Middleware("vaults")).Get("/bonds/{bond}/vaults", srv.listVaults)
			q.With(obs.Middleware("vault")).Get("/bonds/{bond}/vaults/{account}", srv.getVault)
			q.With(obs.Middleware("vault_ratio")).Get("/bonds/{bond}/vaults/{account}/ratio", srv.getRatio)
			q.With(obs.Middleware("vault_underwater")).Get("/bonds/{bond}/vaults/{account}/underwater", srv.getUnderwater)
			q.With(obs.Middleware("clutchable")).Get("/bonds/{bond}/clutchable", srv.getClutchable)
			q.With(obs.Middleware("balance")).Get("/assets/{symbol}/balances/{account}", srv.getBalance)
			q.With(obs.Middleware("price")).Get("/prices/{symbol}", srv.getPrice)
			q.With(obs.Middleware("nonce")).Get("/accounts/{account}/nonce", srv.getNonce)
			q.With(obs.Middleware("events")).Get("/events", srv.getEvents)
			// The websocket upgrade needs the raw writer, so the stream skips
			// the observability wrapper.
			q.Get("/events/stream", srv.streamEvents)
		})
	})
	srv.router = r
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFrom(r.Context()),
			"error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathAddress(r *http.Request, param string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, param))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, param, err)
	}
	return addr, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type txResponse struct {
	Events []*types.Event `json:"events"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var env types.Envelope
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode envelope: %v", errBadRequest, err))
		return
	}
	evts, err := s.ledger.Apply(r.Context(), &env)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := txResponse{Events: make([]*types.Event, 0, len(evts))}
	for _, evt := range evts {
		resp.Events = append(resp.Events, evt.Event())
	}
	writeJSON(w, http.StatusOK, resp)
}

type bondResponse struct {
	Address                string          `json:"address"`
	Symbol                 string          `json:"symbol"`
	Name                   string          `json:"name"`
	Underlying             string          `json:"underlying"`
	Collateral             string          `json:"collateral"`
	ExpirationTime         uint64          `json:"expirationTime"`
	Matured                bool            `json:"matured"`
	RedemptionPool         string          `json:"redemptionPool"`
	TotalSupply            string          `json:"totalSupply"`
	Listed                 bool            `json:"listed"`
	CollateralizationRatio string          `json:"collateralizationRatio"`
	DebtCeiling            string          `json:"debtCeiling"`
	LiquidationIncentive   string          `json:"liquidationIncentive"`
	Flags                  map[string]bool `json:"flags"`
}

func (s *Server) getBond(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "bond")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var resp bondResponse
	err = s.ledger.View(func(m *core.Modules) error {
		spec, err := m.Registry.Spec(addr)
		if err != nil {
			return err
		}
		cfg, err := m.Registry.GetBond(addr)
		if err != nil {
			return err
		}
		supply, err := m.Assets.TotalSupply(spec.Symbol)
		if err != nil {
			return err
		}
		matured, err := m.Bonds.IsMatured(addr)
		if err != nil {
			return err
		}
		resp = bondResponse{
			Address:                addr.String(),
			Symbol:                 spec.Symbol,
			Name:                   spec.Name,
			Underlying:             spec.UnderlyingSymbol,
			Collateral:             spec.CollateralSymbol,
			ExpirationTime:         spec.ExpirationTime,
			Matured:                matured,
			RedemptionPool:         crypto.NewAddress(crypto.ContractPrefix, spec.RedemptionPool).String(),
			TotalSupply:            amountString(supply),
			Listed:                 cfg.IsListed,
			CollateralizationRatio: amountString(cfg.CollateralizationRatio),
			DebtCeiling:            amountString(cfg.DebtCeiling),
			LiquidationIncentive:   amountString(cfg.LiquidationIncentive),
			Flags:                  make(map[string]bool, len(registry.Flags)),
		}
		if !cfg.IsListed {
			return nil
		}
		for _, flag := range registry.Flags {
			allowed, err := m.Registry.Allowed(addr, flag)
			if err != nil {
				return err
			}
			resp.Flags[string(flag)] = allowed
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) bondAndAccount(r *http.Request) (crypto.Address, crypto.Address, error) {
	bondAddr, err := pathAddress(r, "bond")
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	return bondAddr, account, nil
}

type vaultResponse struct {
	Bond             string `json:"bond"`
	Account          string `json:"account"`
	IsOpen           bool   `json:"isOpen"`
	Debt             string `json:"debt"`
	FreeCollateral   string `json:"freeCollateral"`
	LockedCollateral string `json:"lockedCollateral"`
}

func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	bondAddr, account, err := s.bondAndAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var resp vaultResponse
	err = s.ledger.View(func(m *core.Modules) error {
		v, err := m.Vaults.GetVault(bondAddr, account)
		if err != nil {
			return err
		}
		resp = vaultResponse{
			Bond:             bondAddr.String(),
			Account:          account.String(),
			IsOpen:           v.IsOpen,
			Debt:             amountString(v.Debt),
			FreeCollateral:   amountString(v.FreeCollateral),
			LockedCollateral: amountString(v.LockedCollateral),
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listVaults(w http.ResponseWriter, r *http.Request) {
	bondAddr, err := pathAddress(r, "bond")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vaults := make([]vaultResponse, 0)
	err = s.ledger.View(func(m *core.Modules) error {
		if _, err := m.Registry.Spec(bondAddr); err != nil {
			return err
		}
		accounts, err := m.Vaults.VaultAccounts(bondAddr)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			v, err := m.Vaults.GetVault(bondAddr, account)
			if err != nil {
				return err
			}
			vaults = append(vaults, vaultResponse{
				Bond:             bondAddr.String(),
				Account:          account.String(),
				IsOpen:           v.IsOpen,
				Debt:             amountString(v.Debt),
				FreeCollateral:   amountString(v.FreeCollateral),
				LockedCollateral: amountString(v.LockedCollateral),
			})
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vaults": vaults})
}

// getRatio returns the current ratio, or the hypothetical ratio when
// collateral or debt is given. The hypothetical form needs both.
func (s *Server) getRatio(w http.ResponseWriter, r *http.Request) {
	bondAddr, account, err := s.bondAndAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	rawCollateral, rawDebt := query.Get("collateral"), query.Get("debt")
	hypothetical := rawCollateral != "" || rawDebt != ""
	var collateral, debt *big.Int
	if hypothetical {
		if collateral, err = core.ParseAmount("collateral", rawCollateral); err != nil {
			s.writeError(w, r, err)
			return
		}
		if debt, err = core.ParseAmount("debt", rawDebt); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var ratio *big.Int
	err = s.ledger.View(func(m *core.Modules) error {
		var err error
		if hypothetical {
			ratio, err = m.Vaults.GetHypotheticalCollateralizationRatio(bondAddr, account, collateral, debt)
		} else {
			ratio, err = m.Vaults.GetCurrentCollateralizationRatio(bondAddr, account)
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ratio": amountString(ratio)})
}

func (s *Server) getUnderwater(w http.ResponseWriter, r *http.Request) {
	bondAddr, account, err := s.bondAndAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var underwater bool
	err = s.ledger.View(func(m *core.Modules) error {
		var err error
		underwater, err = m.Vaults.IsAccountUnderwater(bondAddr, account)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"underwater": underwater})
}

func (s *Server) getClutchable(w http.ResponseWriter, r *http.Request) {
	bondAddr, err := pathAddress(r, "bond")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	repay, err := core.ParseAmount("repay", r.URL.Query().Get("repay"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var collateral *big.Int
	err = s.ledger.View(func(m *core.Modules) error {
		var err error
		collateral, err = m.Vaults.GetClutchableCollateral(bondAddr, repay)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collateral": amountString(collateral)})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	var balance *big.Int
	var decimals uint8
	err = s.ledger.View(func(m *core.Modules) error {
		var err error
		if decimals, err = m.Assets.Decimals(symbol); err != nil {
			return err
		}
		balance, err = m.Assets.BalanceOf(account, symbol)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":   symbol,
		"account":  account.String(),
		"balance":  amountString(balance),
		"decimals": decimals,
	})
}

type priceResponse struct {
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Normalized string `json:"normalized"`
	Decimals   uint8  `json:"decimals"`
	Timestamp  uint64 `json:"timestamp"`
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	var resp priceResponse
	err := s.ledger.View(func(m *core.Modules) error {
		feed, err := m.Oracle.Feed(symbol)
		if err != nil {
			return err
		}
		if feed == nil {
			return fmt.Errorf("%w: %s", oracle.ErrFeedNotFound, symbol)
		}
		normalized, err := m.Prices.NormalizedPrice(symbol)
		if err != nil {
			return err
		}
		resp = priceResponse{
			Symbol:     feed.Symbol,
			Price:      amountString(feed.Price),
			Normalized: amountString(normalized),
			Decimals:   feed.Decimals,
			Timestamp:  feed.Timestamp,
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getNonce(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.ledger.Nonce(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event journal disabled"})
		return
	}
	query := r.URL.Query()
	filter := journal.Filter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: after must be a sequence number", errBadRequest))
			return
		}
		filter.After = after
	}
	records, err := s.journal.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}
