package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"delphor/core/events"
	"delphor/core/state"
	"delphor/core/types"
	"delphor/crypto"
	"delphor/native/bank"
	"delphor/native/common"
	"delphor/native/oracle"
	"delphor/native/registry"
	"delphor/native/vault"
	"delphor/observability"
	"delphor/storage"
)

var (
	// ErrUnauthorized is returned when an admin operation is invoked by anyone
	// other than the registry admin.
	ErrUnauthorized = errors.New("node: caller is not the registry admin")
	// ErrUnknownModule is returned when pausing a module the node does not run.
	ErrUnknownModule = errors.New("node: unknown module")
)

// Pausable lists the modules an admin can halt.
var Pausable = []string{"oracle", "vault"}

const registryLock = "registry"

// Options tunes a Node.
type Options struct {
	Oracle      oracle.Config
	Paused      []string
	Logger      *slog.Logger
	Emitter     events.Emitter
	EventLogCap int
	Now         func() time.Time
}

// Node is the central controller. Every mutating call locks the keys it
// touches, runs the engines against one state transaction and commits the
// transaction as a single storage batch.
type Node struct {
	db        storage.Database
	state     *state.Manager
	pauses    *common.PauseSet
	oracleCfg oracle.Config
	logger    *slog.Logger
	emitter   events.Emitter
	eventLog  *events.Log
	nowFn     func() time.Time
}

// NewNode opens the node over db. The registry is initialized with admin on
// first start; later starts keep the stored admin.
func NewNode(db storage.Database, admin crypto.Address, opts Options) (*Node, error) {
	if db == nil {
		return nil, errors.New("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	eventLog := events.NewLog(opts.EventLogCap)
	emitters := events.Multi{eventLog, metricsEmitter{}}
	if opts.Emitter != nil {
		emitters = append(emitters, opts.Emitter)
	}
	n := &Node{
		db:        db,
		state:     state.NewManager(db),
		pauses:    common.NewPauseSet(),
		oracleCfg: opts.Oracle,
		logger:    logger.With("component", "node"),
		emitter:   emitters,
		eventLog:  eventLog,
		nowFn:     now,
	}
	if err := n.state.EnsureStateVersion(); err != nil {
		return nil, err
	}
	for _, module := range opts.Paused {
		if !isPausable(module) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
		}
		n.pauses.Set(module, true)
	}

	reg, err := registry.NewEngine(n.state).Load()
	switch {
	case errors.Is(err, registry.ErrNotInitialized):
		if admin.IsZero() {
			return nil, errors.New("node: registry admin required on first start")
		}
		if err := n.state.Update(func(tx *state.Tx) error {
			return registry.NewEngine(tx).Init(admin)
		}); err != nil {
			return nil, err
		}
		n.logger.Info("registry initialized", "admin", admin.String())
	case err != nil:
		return nil, err
	default:
		if !admin.IsZero() && !reg.IsAdmin(admin) {
			n.logger.Warn("configured admin differs from stored registry admin",
				"configured", admin.String(), "stored", reg.Admin.String())
		}
		n.logger.Info("registry loaded", "tokens", len(reg.Tokens))
	}
	return n, nil
}

func isPausable(module string) bool {
	module = strings.ToLower(strings.TrimSpace(module))
	for _, candidate := range Pausable {
		if candidate == module {
			return true
		}
	}
	return false
}

// engines is one set of module engines bound to the same state.
type engines struct {
	registry *registry.Engine
	oracle   *oracle.Engine
	ledger   *bank.Ledger
	vault    *vault.Engine
}

type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

func (n *Node) engines(store kvStore) *engines {
	reg := registry.NewEngine(store)
	prices := oracle.NewEngine(store, reg, n.oracleCfg)
	prices.SetPauses(n.pauses)
	prices.SetNowFunc(n.nowFn)
	ledger := bank.NewLedger(store)
	vaults := vault.NewEngine(store, reg, prices, ledger)
	vaults.SetPauses(n.pauses)
	vaults.SetNowFunc(n.nowFn)
	return &engines{registry: reg, oracle: prices, ledger: ledger, vault: vaults}
}

// execute locks keys, runs fn in a transaction and commits it. Events are
// only emitted once the commit succeeded.
func (n *Node) execute(module, op string, keys []string, fn func(*engines) ([]events.Event, error)) error {
	start := time.Now()
	release := n.state.Locks().Lock(keys...)
	defer release()

	var emitted []events.Event
	err := n.state.Update(func(tx *state.Tx) error {
		evts, err := fn(n.engines(tx))
		if err != nil {
			return err
		}
		emitted = evts
		return nil
	})
	observability.Operations().Observe(module, op, time.Since(start), err)
	if err != nil {
		n.logger.Debug("operation rejected", "module", module, "operation", op, "error", err)
		return err
	}
	for _, evt := range emitted {
		n.emitter.Emit(evt)
	}
	return nil
}

// view runs read-only calls directly against committed state.
func (n *Node) view() *engines {
	return n.engines(n.state)
}

func (n *Node) registryView() (*registry.Registry, error) {
	return registry.NewEngine(n.state).Load()
}

func (n *Node) requireAdmin(caller crypto.Address) (*registry.Registry, error) {
	reg, err := n.registryView()
	if err != nil {
		return nil, err
	}
	if !reg.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}
	return reg, nil
}

// token resolves a position outside any transaction. Positions never move
// once assigned, so the result stays valid for the lock set.
func (n *Node) token(position uint8) (registry.Token, error) {
	reg, err := n.registryView()
	if err != nil {
		return registry.Token{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return registry.Token{}, registry.ErrInvalidPosition
	}
	return token, nil
}

func accountLock(acct bank.Account) string {
	return "bank/" + acct.Owner.Key() + "/" + acct.Mint.Key()
}

func supplyLock(mint crypto.Address) string {
	return "bank/supply/" + mint.Key()
}

func vaultLock(owner crypto.Address, kind vault.Kind) string {
	return fmt.Sprintf("vault/%d/%s", kind, owner.Key())
}

func priceLock(mint crypto.Address) string {
	return "oracle/price/" + mint.Key()
}

// ---- registry ----

// Registry returns the committed token registry.
func (n *Node) Registry() (*registry.Registry, error) {
	return n.registryView()
}

// AddToken appends a token to the registry and returns its position.
func (n *Node) AddToken(caller crypto.Address, token registry.Token) (uint8, error) {
	var position uint8
	err := n.execute("registry", "add_token", []string{registryLock}, func(e *engines) ([]events.Event, error) {
		pos, err := e.registry.AddToken(caller, token)
		if err != nil {
			return nil, err
		}
		position = pos
		stored, err := e.registry.Token(pos)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.TokenAdded{Position: pos, Mint: stored.Mint, Symbol: stored.Symbol, Decimals: stored.Decimals}}, nil
	})
	if err != nil {
		return 0, err
	}
	n.logger.Info("token added", "position", position, "symbol", token.Symbol, "mint", token.Mint.String())
	return position, nil
}

// SetRegistryAdmin hands registry authority to next.
func (n *Node) SetRegistryAdmin(caller, next crypto.Address) error {
	err := n.execute("registry", "set_admin", []string{registryLock}, func(e *engines) ([]events.Event, error) {
		if err := e.registry.SetAdmin(caller, next); err != nil {
			return nil, err
		}
		return []events.Event{events.AdminRotated{Previous: caller, Next: next}}, nil
	})
	if err != nil {
		return err
	}
	n.logger.Warn("registry admin rotated", "previous", caller.String(), "next", next.String())
	return nil
}

// ---- oracle ----

// UpdatePrice aggregates readings into the price of the token at position.
func (n *Node) UpdatePrice(caller crypto.Address, position uint8, readings []oracle.Reading) (oracle.PriceRecord, error) {
	token, err := n.token(position)
	if err != nil {
		return oracle.PriceRecord{}, err
	}
	var record oracle.PriceRecord
	err = n.execute("oracle", "update_price", []string{priceLock(token.Mint)}, func(e *engines) ([]events.Event, error) {
		rec, err := e.oracle.UpdatePrice(caller, position, readings)
		if err != nil {
			return nil, err
		}
		record = rec
		return []events.Event{priceEvent(token, rec)}, nil
	})
	n.recordPrice(token, record, err)
	return record, err
}

// SubmitObservation stores a feeder's off-chain quotes for symbol.
func (n *Node) SubmitObservation(caller crypto.Address, symbol string, readings []oracle.Reading) (oracle.Observation, error) {
	var obs oracle.Observation
	lock := "oracle/observation/" + strings.ToUpper(strings.TrimSpace(symbol))
	err := n.execute("oracle", "submit_observation", []string{lock}, func(e *engines) ([]events.Event, error) {
		stored, err := e.oracle.SubmitObservation(caller, symbol, readings)
		if err != nil {
			return nil, err
		}
		obs = stored
		return []events.Event{events.ObservationPosted{Symbol: stored.Symbol, Authority: caller, Readings: len(stored.Readings)}}, nil
	})
	return obs, err
}

// Observation returns the latest off-chain quotes for symbol.
func (n *Node) Observation(symbol string) (oracle.Observation, error) {
	return n.view().oracle.ObservationFor(symbol)
}

// RefreshPrice recomputes the price at position from the stored observation
// and the supplied on-chain feed readings.
func (n *Node) RefreshPrice(caller crypto.Address, position uint8, feeds []oracle.Reading) (oracle.PriceRecord, error) {
	token, err := n.token(position)
	if err != nil {
		return oracle.PriceRecord{}, err
	}
	var record oracle.PriceRecord
	keys := []string{priceLock(token.Mint), "oracle/observation/" + token.Symbol}
	err = n.execute("oracle", "refresh_price", keys, func(e *engines) ([]events.Event, error) {
		rec, err := e.oracle.RefreshPrice(caller, position, feeds)
		if err != nil {
			return nil, err
		}
		record = rec
		return []events.Event{priceEvent(token, rec)}, nil
	})
	n.recordPrice(token, record, err)
	return record, err
}

// Price returns the committed price record at position.
func (n *Node) Price(position uint8) (oracle.PriceRecord, error) {
	return n.view().oracle.Price(position)
}

func priceEvent(token registry.Token, rec oracle.PriceRecord) events.Event {
	return events.PriceUpdated{Symbol: token.Symbol, Price: rec.Price, Decimals: rec.Decimals, CV: rec.CV, Sources: rec.Sources}
}

func (n *Node) recordPrice(token registry.Token, rec oracle.PriceRecord, err error) {
	if err != nil {
		observability.Oracle().RecordRejected(token.Symbol)
		if errors.Is(err, oracle.ErrPricesTooDivergent) {
			n.logger.Warn("price update rejected", "symbol", token.Symbol, "error", err)
		}
		return
	}
	observability.Oracle().RecordAccepted(token.Symbol, rec.Price, rec.Decimals, rec.CV, len(rec.Sources))
}

// ---- bank ----

// Balance returns the committed balance of acct.
func (n *Node) Balance(acct bank.Account) (uint64, error) {
	return n.view().ledger.Balance(acct)
}

// Allowance returns what delegate may still move out of acct.
func (n *Node) Allowance(acct bank.Account, delegate crypto.Address) (uint64, error) {
	return n.view().ledger.Allowance(acct, delegate)
}

// Supply returns the total minted amount of the token at position.
func (n *Node) Supply(position uint8) (uint64, error) {
	token, err := n.token(position)
	if err != nil {
		return 0, err
	}
	return n.view().ledger.Supply(token.Mint)
}

// Mint credits amount of the token at position to owner. Only the registry
// admin may mint.
func (n *Node) Mint(caller crypto.Address, position uint8, owner crypto.Address, amount uint64) error {
	if _, err := n.requireAdmin(caller); err != nil {
		return err
	}
	token, err := n.token(position)
	if err != nil {
		return err
	}
	acct := bank.Account{Owner: owner, Mint: token.Mint}
	return n.execute("bank", "mint", []string{accountLock(acct), supplyLock(token.Mint)}, func(e *engines) ([]events.Event, error) {
		if err := e.ledger.Mint(acct, amount); err != nil {
			return nil, err
		}
		return []events.Event{events.Mint{To: owner, Symbol: token.Symbol, Amount: amount}}, nil
	})
}

// Approve lets delegate move up to amount of caller's token at position.
func (n *Node) Approve(caller crypto.Address, position uint8, delegate crypto.Address, amount uint64) error {
	token, err := n.token(position)
	if err != nil {
		return err
	}
	acct := bank.Account{Owner: caller, Mint: token.Mint}
	return n.execute("bank", "approve", []string{accountLock(acct)}, func(e *engines) ([]events.Event, error) {
		if err := e.ledger.Approve(acct, delegate, amount); err != nil {
			return nil, err
		}
		return []events.Event{events.Approval{Owner: caller, Delegate: delegate, Symbol: token.Symbol, Amount: amount}}, nil
	})
}

// ---- vault ----

// InitVault creates owner's vault of kind.
func (n *Node) InitVault(owner crypto.Address, kind vault.Kind) error {
	err := n.execute("vault", "init", []string{vaultLock(owner, kind), "vault/index"}, func(e *engines) ([]events.Event, error) {
		var err error
		switch kind {
		case vault.KindLiquidityProvider:
			err = e.vault.InitLiquidityProvider(owner)
		case vault.KindPortfolioManager:
			err = e.vault.InitPortfolio(owner)
		default:
			err = fmt.Errorf("%w: unknown vault kind %d", vault.ErrInvalidRequest, kind)
		}
		if err != nil {
			return nil, err
		}
		return []events.Event{events.VaultInitialized{Owner: owner, Kind: kind.String()}}, nil
	})
	if err != nil {
		return err
	}
	n.logger.Info("vault initialized", "owner", owner.String(), "kind", kind.String())
	return nil
}

// Vault returns owner's committed vault of kind.
func (n *Node) Vault(owner crypto.Address, kind vault.Kind) (*vault.UserVault, error) {
	return n.view().vault.Vault(owner, kind)
}

// Vaults lists every initialized vault.
func (n *Node) Vaults() ([]vault.VaultRef, error) {
	return n.view().vault.Owners()
}

// UpdateSlot reconfigures a liquidity provider slot.
func (n *Node) UpdateSlot(owner crypto.Address, position uint8, cfg vault.SlotConfig) (vault.CoinVault, error) {
	token, err := n.token(position)
	if err != nil {
		return vault.CoinVault{}, err
	}
	var slot vault.CoinVault
	err = n.execute("vault", "update_slot", []string{vaultLock(owner, vault.KindLiquidityProvider)}, func(e *engines) ([]events.Event, error) {
		updated, err := e.vault.UpdateLiquidityProvider(owner, position, cfg)
		if err != nil {
			return nil, err
		}
		slot = updated
		return []events.Event{events.SlotUpdated{Owner: owner, Kind: vault.KindLiquidityProvider.String(), Symbol: token.Symbol, Min: updated.Min, Max: updated.Max}}, nil
	})
	return slot, err
}

// UpdatePortfolio sets a portfolio manager target weight.
func (n *Node) UpdatePortfolio(owner crypto.Address, position uint8, cfg vault.PortfolioConfig) (vault.CoinVault, error) {
	token, err := n.token(position)
	if err != nil {
		return vault.CoinVault{}, err
	}
	var slot vault.CoinVault
	err = n.execute("vault", "update_portfolio", []string{vaultLock(owner, vault.KindPortfolioManager)}, func(e *engines) ([]events.Event, error) {
		updated, err := e.vault.UpdatePortfolio(owner, position, cfg)
		if err != nil {
			return nil, err
		}
		slot = updated
		return []events.Event{events.SlotUpdated{Owner: owner, Kind: vault.KindPortfolioManager.String(), Symbol: token.Symbol, Min: updated.Min, Max: updated.Max}}, nil
	})
	return slot, err
}

// Deposit moves tokens from the owner's account into custody and credits the vault.
func (n *Node) Deposit(req vault.DepositRequest) (vault.CoinVault, error) {
	token, err := n.token(req.Position)
	if err != nil {
		return vault.CoinVault{}, err
	}
	keys := []string{
		vaultLock(req.Owner, req.Kind),
		accountLock(bank.Account{Owner: req.Owner, Mint: token.Mint}),
		accountLock(bank.StoreAccount(token.Mint)),
	}
	var slot vault.CoinVault
	err = n.execute("vault", "deposit", keys, func(e *engines) ([]events.Event, error) {
		updated, err := e.vault.Deposit(req)
		if err != nil {
			return nil, err
		}
		slot = updated
		return []events.Event{events.Custody{Owner: req.Owner, Kind: req.Kind.String(), Symbol: token.Symbol, Amount: req.Amount, Balance: updated.Amount}}, nil
	})
	if err == nil {
		observability.Vault().RecordCustody(token.Symbol, "in")
	}
	return slot, err
}

// Withdraw debits the vault and releases tokens from custody to the owner.
func (n *Node) Withdraw(req vault.WithdrawRequest) (vault.CoinVault, error) {
	token, err := n.token(req.Position)
	if err != nil {
		return vault.CoinVault{}, err
	}
	keys := []string{
		vaultLock(req.Owner, req.Kind),
		accountLock(bank.Account{Owner: req.Owner, Mint: token.Mint}),
		accountLock(bank.StoreAccount(token.Mint)),
	}
	var slot vault.CoinVault
	err = n.execute("vault", "withdraw", keys, func(e *engines) ([]events.Event, error) {
		updated, err := e.vault.Withdraw(req)
		if err != nil {
			return nil, err
		}
		slot = updated
		return []events.Event{events.Custody{Withdrawal: true, Owner: req.Owner, Kind: req.Kind.String(), Symbol: token.Symbol, Amount: req.Amount, Balance: updated.Amount}}, nil
	})
	if err == nil {
		observability.Vault().RecordCustody(token.Symbol, "out")
	}
	return slot, err
}

// Swap executes a trade against one vault. Nothing is committed unless both
// transfers and both slot updates succeed.
func (n *Node) Swap(req vault.SwapRequest) (vault.SwapResult, error) {
	sellToken, err := n.token(req.SellPosition)
	if err != nil {
		return vault.SwapResult{}, err
	}
	buyToken, err := n.token(req.BuyPosition)
	if err != nil {
		return vault.SwapResult{}, err
	}
	keys := []string{
		vaultLock(req.Owner, req.Kind),
		accountLock(bank.Account{Owner: req.Trader, Mint: sellToken.Mint}),
		accountLock(bank.Account{Owner: req.Trader, Mint: buyToken.Mint}),
		accountLock(bank.StoreAccount(sellToken.Mint)),
		accountLock(bank.StoreAccount(buyToken.Mint)),
	}
	var result vault.SwapResult
	err = n.execute("vault", "swap", keys, func(e *engines) ([]events.Event, error) {
		res, err := e.vault.Swap(req)
		if err != nil {
			return nil, err
		}
		result = res
		return []events.Event{events.Swap{
			Trader:  req.Trader,
			Owner:   req.Owner,
			Kind:    req.Kind.String(),
			Sell:    sellToken.Symbol,
			Buy:     buyToken.Symbol,
			Sold:    req.SellAmount,
			Receive: res.Receive,
			SellFee: res.Fees.Sell,
			BuyFee:  res.Fees.Buy,
		}}, nil
	})
	if err != nil {
		return vault.SwapResult{}, err
	}
	observability.Vault().RecordSwap(sellToken.Symbol, buyToken.Symbol, req.Kind.String(), req.SellAmount, result.Receive, result.Fees.Sell, result.Fees.Buy)
	n.logger.Info("swap executed",
		"trader", req.Trader.String(),
		"owner", req.Owner.String(),
		"kind", req.Kind.String(),
		"sell", sellToken.Symbol,
		"buy", buyToken.Symbol,
		"amount", req.SellAmount,
		"receive", result.Receive)
	return result, nil
}

// Quote prices a swap against one vault without changing state.
func (n *Node) Quote(owner crypto.Address, kind vault.Kind, sell, buy uint8, amount uint64) (vault.SwapResult, error) {
	return n.view().vault.Quote(owner, kind, sell, buy, amount)
}

// Counterparties ranks the vaults able to fill a swap.
func (n *Node) Counterparties(sell, buy uint8, amount, minReceive uint64, limit int) ([]vault.Candidate, error) {
	return n.view().vault.Counterparties(sell, buy, amount, minReceive, limit)
}

// ---- admin ----

// SetPaused halts or resumes module. Only the registry admin may call it.
func (n *Node) SetPaused(caller crypto.Address, module string, paused bool) error {
	if _, err := n.requireAdmin(caller); err != nil {
		return err
	}
	if !isPausable(module) {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	n.pauses.Set(module, paused)
	n.emitter.Emit(events.ModulePaused{Module: module, Paused: paused})
	n.logger.Warn("module pause toggled", "module", module, "paused", paused)
	return nil
}

// Paused reports whether module is halted.
func (n *Node) Paused(module string) bool {
	return n.pauses.IsPaused(module)
}

// Events returns up to limit recent committed events, newest first.
func (n *Node) Events(limit int) []types.Event {
	return n.eventLog.Recent(limit)
}

// Close releases the underlying database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}

type metricsEmitter struct{}

func (metricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
}
