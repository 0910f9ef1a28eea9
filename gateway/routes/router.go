package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"delphor/core/types"
	"delphor/crypto"
	"delphor/gateway/middleware"
	"delphor/native/bank"
	"delphor/native/oracle"
	"delphor/native/registry"
	"delphor/native/vault"
)

// Node is the part of core.Node the HTTP API drives.
type Node interface {
	Registry() (*registry.Registry, error)
	AddToken(caller crypto.Address, token registry.Token) (uint8, error)
	SetRegistryAdmin(caller, next crypto.Address) error

	UpdatePrice(caller crypto.Address, position uint8, readings []oracle.Reading) (oracle.PriceRecord, error)
	SubmitObservation(caller crypto.Address, symbol string, readings []oracle.Reading) (oracle.Observation, error)
	Observation(symbol string) (oracle.Observation, error)
	RefreshPrice(caller crypto.Address, position uint8, feeds []oracle.Reading) (oracle.PriceRecord, error)
	Price(position uint8) (oracle.PriceRecord, error)

	Balance(acct bank.Account) (uint64, error)
	Allowance(acct bank.Account, delegate crypto.Address) (uint64, error)
	Supply(position uint8) (uint64, error)
	Mint(caller crypto.Address, position uint8, owner crypto.Address, amount uint64) error
	Approve(caller crypto.Address, position uint8, delegate crypto.Address, amount uint64) error

	InitVault(owner crypto.Address, kind vault.Kind) error
	Vault(owner crypto.Address, kind vault.Kind) (*vault.UserVault, error)
	Vaults() ([]vault.VaultRef, error)
	UpdateSlot(owner crypto.Address, position uint8, cfg vault.SlotConfig) (vault.CoinVault, error)
	UpdatePortfolio(owner crypto.Address, position uint8, cfg vault.PortfolioConfig) (vault.CoinVault, error)
	Deposit(req vault.DepositRequest) (vault.CoinVault, error)
	Withdraw(req vault.WithdrawRequest) (vault.CoinVault, error)
	Swap(req vault.SwapRequest) (vault.SwapResult, error)
	Quote(owner crypto.Address, kind vault.Kind, sell, buy uint8, amount uint64) (vault.SwapResult, error)
	Counterparties(sell, buy uint8, amount, minReceive uint64, limit int) ([]vault.Candidate, error)

	SetPaused(caller crypto.Address, module string, paused bool) error
	Paused(module string) bool
	Events(limit int) []types.Event
}

type Config struct {
	Node          Node
	Pausable      []string
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

type api struct {
	node     Node
	pausable []string
}

// New builds the HTTP API. Reads are public; writes need a bearer token and
// privileged writes the admin or feeder scope.
func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, errors.New("routes: node required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator required")
	}
	a := &api{node: cfg.Node, pausable: cfg.Pausable}
	auth := cfg.Authenticator

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		// Rate limiting runs after authentication so callers are keyed by
		// address rather than IP.
		module := func(name string) (public chi.Router, private func(scopes ...string) chi.Router) {
			base := v1.With()
			if cfg.Observability != nil {
				base = base.With(cfg.Observability.Middleware(name))
			}
			limit := func(sr chi.Router) chi.Router {
				if cfg.RateLimiter == nil {
					return sr
				}
				return sr.With(cfg.RateLimiter.Middleware(name))
			}
			return limit(base), func(scopes ...string) chi.Router {
				return limit(base.With(auth.Middleware(scopes...)))
			}
		}

		pub, priv := module("registry")
		pub.Get("/registry", a.getRegistry)
		priv(middleware.ScopeAdmin).Post("/registry/tokens", a.addToken)
		priv(middleware.ScopeAdmin).Put("/registry/admin", a.setRegistryAdmin)

		pub, priv = module("oracle")
		pub.Get("/prices/{position}", a.getPrice)
		pub.Get("/observations/{symbol}", a.getObservation)
		priv(middleware.ScopeFeeder).Post("/prices/{position}", a.updatePrice)
		priv(middleware.ScopeFeeder).Post("/prices/{position}/refresh", a.refreshPrice)
		priv(middleware.ScopeFeeder).Post("/observations", a.submitObservation)

		pub, priv = module("bank")
		pub.Get("/balances/{owner}/{position}", a.getBalance)
		pub.Get("/allowances/{owner}/{position}/{delegate}", a.getAllowance)
		pub.Get("/supply/{position}", a.getSupply)
		priv(middleware.ScopeAdmin).Post("/mint", a.mint)
		priv().Post("/approvals", a.approve)

		pub, priv = module("vault")
		pub.Get("/vaults", a.listVaults)
		pub.Get("/vaults/{owner}/{kind}", a.getVault)
		pub.Get("/quote", a.quote)
		pub.Get("/counterparties", a.counterparties)
		priv().Post("/vaults", a.initVault)
		priv().Put("/vaults/slots/{position}", a.updateSlot)
		priv().Put("/vaults/portfolio/{position}", a.updatePortfolio)
		priv().Post("/vaults/deposit", a.deposit)
		priv().Post("/vaults/withdraw", a.withdraw)
		priv().Post("/swap", a.swap)

		pub, priv = module("admin")
		pub.Get("/admin/pauses", a.getPauses)
		pub.Get("/events", a.listEvents)
		priv(middleware.ScopeAdmin).Put("/admin/pauses/{module}", a.setPause)
	})

	return r, nil
}
