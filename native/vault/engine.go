package vault

import (
	"errors"
	"fmt"
	"time"

	"delphor/crypto"
	"delphor/native/bank"
	"delphor/native/common"
	"delphor/native/oracle"
	"delphor/native/registry"
)

const moduleName = "vault"

var (
	errNilState = errors.New("vault engine: state not configured")

	ErrInvalidRequest          = errors.New("vault: invalid request")
	ErrVaultExists             = errors.New("vault: already initialized")
	ErrVaultNotFound           = errors.New("vault: not found")
	ErrNotOwner                = errors.New("vault: caller is not the vault owner")
	ErrProvideDisabled         = errors.New("vault: slot does not provide tokens")
	ErrReceiveDisabled         = errors.New("vault: slot does not receive tokens")
	ErrLimitPrice              = errors.New("vault: price below limit price")
	ErrInsufficientAmount      = errors.New("vault: final amount lower than min amount")
	ErrVaultInsufficientAmount = errors.New("vault: insufficient vault balance")
	ErrAboveMax                = errors.New("vault: balance would exceed max")
	ErrBelowMin                = errors.New("vault: balance would fall below min")
	ErrExceedsBasisPoints      = errors.New("vault: value exceeds basis points")
	ErrFeeOutOfRange           = errors.New("vault: fee out of range")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type registryView interface {
	Load() (*registry.Registry, error)
}

type priceSource interface {
	FreshPriceOf(mint crypto.Address) (oracle.PriceRecord, error)
}

type tokenLedger interface {
	Transfer(from, to bank.Account, authority crypto.Address, amount uint64) error
}

// Engine owns user vaults and executes deposits, withdrawals and swaps.
type Engine struct {
	state    engineState
	registry registryView
	prices   priceSource
	ledger   tokenLedger
	fees     FeeModel
	pauses   common.PauseView
	nowFn    func() time.Time
}

func NewEngine(state engineState, reg registryView, prices priceSource, ledger tokenLedger) *Engine {
	return &Engine{state: state, registry: reg, prices: prices, ledger: ledger, nowFn: time.Now}
}

// SetPauses wires the pause view consulted before mutations.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock used for slot timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn().Unix())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.registry == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) loadType(owner crypto.Address, kind Kind) (VaultType, error) {
	var header storedHeader
	ok, err := e.state.KVGet(headerKey(owner, kind), &header)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return header.vaultType()
}

func (e *Engine) putType(owner crypto.Address, t VaultType, created uint64) error {
	kind, autoFee, tolerance := encodeType(t)
	return e.state.KVPut(headerKey(owner, t.Kind()), storedHeader{
		Owner:     owner.Bytes(),
		Kind:      kind,
		AutoFee:   autoFee,
		Tolerance: tolerance,
		Created:   created,
	})
}

func (e *Engine) loadSlot(owner crypto.Address, t VaultType, mint crypto.Address) (CoinVault, bool, error) {
	var slot CoinVault
	ok, err := e.state.KVGet(slotKey(owner, t.Kind(), mint), &slot)
	if err != nil {
		return CoinVault{}, false, err
	}
	if !ok {
		return DefaultSlot(t), false, nil
	}
	return slot, true, nil
}

func (e *Engine) putSlot(owner crypto.Address, kind Kind, mint crypto.Address, slot CoinVault) error {
	return e.state.KVPut(slotKey(owner, kind, mint), slot)
}

func (e *Engine) initVault(owner crypto.Address, t VaultType) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidRequest)
	}
	ok, err := e.state.KVGet(headerKey(owner, t.Kind()), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrVaultExists
	}
	if err := e.putType(owner, t, e.now()); err != nil {
		return err
	}
	return e.state.KVAppend(vaultIndex, vaultID(owner, t.Kind()))
}

// InitLiquidityProvider creates owner's liquidity provider vault.
func (e *Engine) InitLiquidityProvider(owner crypto.Address) error {
	return e.initVault(owner, LiquidityProvider{})
}

// InitPortfolio creates owner's portfolio manager vault with automatic fees.
func (e *Engine) InitPortfolio(owner crypto.Address) error {
	return e.initVault(owner, PortfolioManager{AutoFee: true, Tolerance: DefaultTolerance})
}

// Vault loads owner's vault of kind with every stored slot.
func (e *Engine) Vault(owner crypto.Address, kind Kind) (*UserVault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, err := e.loadType(owner, kind)
	if err != nil {
		return nil, err
	}
	reg, err := e.registry.Load()
	if err != nil {
		return nil, err
	}
	out := &UserVault{Owner: owner, Type: t, Slots: make(map[string]CoinVault)}
	for _, token := range reg.Tokens {
		slot, stored, err := e.loadSlot(owner, t, token.Mint)
		if err != nil {
			return nil, err
		}
		if stored {
			out.Slots[token.Mint.Key()] = slot
		}
	}
	return out, nil
}

// Owners lists every initialized vault.
func (e *Engine) Owners() ([]VaultRef, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var ids [][]byte
	if err := e.state.KVGetList(vaultIndex, &ids); err != nil {
		return nil, err
	}
	refs := make([]VaultRef, 0, len(ids))
	for _, id := range ids {
		owner, kind, ok := parseVaultID(id)
		if !ok {
			continue
		}
		refs = append(refs, VaultRef{Owner: owner, Kind: kind})
	}
	return refs, nil
}

// VaultRef identifies one vault.
type VaultRef struct {
	Owner crypto.Address
	Kind  Kind
}

// SlotConfig is the owner-controlled configuration of a liquidity provider slot.
type SlotConfig struct {
	BuyFee           uint16
	SellFee          uint16
	Min              uint64
	Max              uint64
	ReceiveStatus    bool
	ProvideStatus    bool
	LimitPriceStatus bool
	LimitPrice       uint64
}

// UpdateLiquidityProvider reconfigures owner's slot at position.
func (e *Engine) UpdateLiquidityProvider(owner crypto.Address, position uint8, cfg SlotConfig) (CoinVault, error) {
	if err := e.ready(); err != nil {
		return CoinVault{}, err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return CoinVault{}, err
	}
	if cfg.BuyFee > common.BasisPoints || cfg.SellFee > common.BasisPoints {
		return CoinVault{}, ErrExceedsBasisPoints
	}
	if cfg.Min > cfg.Max {
		return CoinVault{}, fmt.Errorf("%w: min above max", ErrInvalidRequest)
	}
	token, err := e.token(position, crypto.Address{})
	if err != nil {
		return CoinVault{}, err
	}
	t, err := e.loadType(owner, KindLiquidityProvider)
	if err != nil {
		return CoinVault{}, err
	}
	slot, _, err := e.loadSlot(owner, t, token.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	slot.BuyFee = cfg.BuyFee
	slot.SellFee = cfg.SellFee
	slot.Min = cfg.Min
	slot.Max = cfg.Max
	slot.ReceiveStatus = cfg.ReceiveStatus
	slot.ProvideStatus = cfg.ProvideStatus
	slot.LimitPriceStatus = cfg.LimitPriceStatus
	slot.LimitPrice = cfg.LimitPrice
	slot.Timestamp = e.now()
	if err := e.putSlot(owner, KindLiquidityProvider, token.Mint, slot); err != nil {
		return CoinVault{}, err
	}
	return slot, nil
}

// PortfolioConfig is the owner-controlled target of a portfolio manager slot.
type PortfolioConfig struct {
	Mid              uint64
	LimitPriceStatus bool
	LimitPrice       uint64
	Tolerance        uint16
}

func band(mid uint64, tolerance uint16) (uint64, uint64) {
	half := mid * uint64(tolerance) / common.BasisPoints / 2
	return mid - half, mid + half
}

// UpdatePortfolio sets the target weight of owner's slot at position. A new
// tolerance re-derives the band of every targeted slot.
func (e *Engine) UpdatePortfolio(owner crypto.Address, position uint8, cfg PortfolioConfig) (CoinVault, error) {
	if err := e.ready(); err != nil {
		return CoinVault{}, err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return CoinVault{}, err
	}
	if cfg.Mid > common.BasisPoints || cfg.Tolerance > common.BasisPoints {
		return CoinVault{}, ErrExceedsBasisPoints
	}
	reg, err := e.registry.Load()
	if err != nil {
		return CoinVault{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return CoinVault{}, registry.ErrInvalidPosition
	}
	t, err := e.loadType(owner, KindPortfolioManager)
	if err != nil {
		return CoinVault{}, err
	}
	pm, ok := t.(PortfolioManager)
	if !ok {
		return CoinVault{}, fmt.Errorf("vault: header kind mismatch %T", t)
	}
	now := e.now()

	slot, _, err := e.loadSlot(owner, t, token.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	slot.Mid = cfg.Mid
	slot.LimitPriceStatus = cfg.LimitPriceStatus
	slot.LimitPrice = cfg.LimitPrice
	slot.Timestamp = now
	slot.Min, slot.Max = band(cfg.Mid, cfg.Tolerance)
	if err := e.putSlot(owner, KindPortfolioManager, token.Mint, slot); err != nil {
		return CoinVault{}, err
	}

	if pm.Tolerance != cfg.Tolerance {
		for i, other := range reg.Tokens {
			if i == int(position) {
				continue
			}
			existing, stored, err := e.loadSlot(owner, t, other.Mint)
			if err != nil {
				return CoinVault{}, err
			}
			if !stored || existing.Mid == 0 {
				continue
			}
			existing.Min, existing.Max = band(existing.Mid, cfg.Tolerance)
			if err := e.putSlot(owner, KindPortfolioManager, other.Mint, existing); err != nil {
				return CoinVault{}, err
			}
		}
		pm.Tolerance = cfg.Tolerance
		var header storedHeader
		if _, err := e.state.KVGet(headerKey(owner, KindPortfolioManager), &header); err != nil {
			return CoinVault{}, err
		}
		if err := e.putType(owner, pm, header.Created); err != nil {
			return CoinVault{}, err
		}
	}
	return slot, nil
}

// token resolves position. A non-zero mint must be the token registered there.
func (e *Engine) token(position uint8, mint crypto.Address) (registry.Token, error) {
	reg, err := e.registry.Load()
	if err != nil {
		return registry.Token{}, err
	}
	return reg.CheckPosition(position, mint)
}

// DepositRequest moves Amount of the token at Position from the owner's token
// account into custody and credits the owner's vault. Authority must own or be
// a delegate on that token account. Mint, when set, must match Position.
type DepositRequest struct {
	Authority crypto.Address
	Owner     crypto.Address
	Kind      Kind
	Position  uint8
	Mint      crypto.Address
	Amount    uint64
}

// Deposit credits the vault after the custody transfer succeeds.
func (e *Engine) Deposit(req DepositRequest) (CoinVault, error) {
	if err := e.ready(); err != nil {
		return CoinVault{}, err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return CoinVault{}, err
	}
	if req.Amount == 0 {
		return CoinVault{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	token, err := e.token(req.Position, req.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	t, err := e.loadType(req.Owner, req.Kind)
	if err != nil {
		return CoinVault{}, err
	}
	slot, _, err := e.loadSlot(req.Owner, t, token.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	credited, err := common.CheckedAdd(slot.Amount, req.Amount)
	if err != nil {
		return CoinVault{}, err
	}
	authority := req.Authority
	if authority.IsZero() {
		authority = req.Owner
	}
	from := bank.Account{Owner: req.Owner, Mint: token.Mint}
	if err := e.ledger.Transfer(from, bank.StoreAccount(token.Mint), authority, req.Amount); err != nil {
		return CoinVault{}, err
	}
	slot.Amount = credited
	slot.Timestamp = e.now()
	if err := e.putSlot(req.Owner, req.Kind, token.Mint, slot); err != nil {
		return CoinVault{}, err
	}
	return slot, nil
}

// WithdrawRequest returns Amount of the token at Position from custody to the
// owner. Mint, when set, must match Position.
type WithdrawRequest struct {
	Caller   crypto.Address
	Owner    crypto.Address
	Kind     Kind
	Position uint8
	Mint     crypto.Address
	Amount   uint64
}

// Withdraw debits the vault, then releases tokens from custody.
func (e *Engine) Withdraw(req WithdrawRequest) (CoinVault, error) {
	if err := e.ready(); err != nil {
		return CoinVault{}, err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return CoinVault{}, err
	}
	if !req.Caller.Equal(req.Owner) {
		return CoinVault{}, ErrNotOwner
	}
	if req.Amount == 0 {
		return CoinVault{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	token, err := e.token(req.Position, req.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	t, err := e.loadType(req.Owner, req.Kind)
	if err != nil {
		return CoinVault{}, err
	}
	slot, _, err := e.loadSlot(req.Owner, t, token.Mint)
	if err != nil {
		return CoinVault{}, err
	}
	if slot.Amount < req.Amount {
		return CoinVault{}, ErrVaultInsufficientAmount
	}
	slot.Amount -= req.Amount
	slot.Timestamp = e.now()
	if err := e.putSlot(req.Owner, req.Kind, token.Mint, slot); err != nil {
		return CoinVault{}, err
	}
	to := bank.Account{Owner: req.Owner, Mint: token.Mint}
	if err := e.ledger.Transfer(bank.StoreAccount(token.Mint), to, bank.CustodyAuthority(), req.Amount); err != nil {
		return CoinVault{}, err
	}
	return slot, nil
}

// SwapRequest sells SellAmount of the token at SellPosition to the vault
// identified by Owner and Kind in exchange for the token at BuyPosition.
// Trader owns the token accounts on both sides; Authority signs for the
// outgoing transfer and defaults to Trader. SellMint and BuyMint, when set,
// must match their positions.
type SwapRequest struct {
	Trader       crypto.Address
	Authority    crypto.Address
	Owner        crypto.Address
	Kind         Kind
	SellPosition uint8
	BuyPosition  uint8
	SellMint     crypto.Address
	BuyMint      crypto.Address
	SellAmount   uint64
	MinReceive   uint64
}

// SwapResult reports the pricing of an executed or quoted swap.
type SwapResult struct {
	Receive       uint64
	Fees          Fees
	SellPrice     uint64
	BuyPrice      uint64
	PriceDecimals uint8
}

type swapPlan struct {
	kind      Kind
	owner     crypto.Address
	sellToken registry.Token
	buyToken  registry.Token
	sellSlot  CoinVault
	buySlot   CoinVault
	result    SwapResult
}

// Quote prices a swap against a vault without changing any state.
func (e *Engine) Quote(owner crypto.Address, kind Kind, sell, buy uint8, amount uint64) (SwapResult, error) {
	if err := e.ready(); err != nil {
		return SwapResult{}, err
	}
	plan, err := e.plan(owner, kind, sell, buy, amount)
	if err != nil {
		return SwapResult{}, err
	}
	return plan.result, nil
}

// Swap executes req. The vault's sell slot is credited, its buy slot debited,
// and both token transfers run against the same state.
func (e *Engine) Swap(req SwapRequest) (SwapResult, error) {
	if err := e.ready(); err != nil {
		return SwapResult{}, err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return SwapResult{}, err
	}
	if req.Trader.IsZero() {
		return SwapResult{}, fmt.Errorf("%w: trader required", ErrInvalidRequest)
	}
	if _, err := e.token(req.SellPosition, req.SellMint); err != nil {
		return SwapResult{}, err
	}
	if _, err := e.token(req.BuyPosition, req.BuyMint); err != nil {
		return SwapResult{}, err
	}
	plan, err := e.plan(req.Owner, req.Kind, req.SellPosition, req.BuyPosition, req.SellAmount)
	if err != nil {
		return SwapResult{}, err
	}
	if plan.result.Receive < req.MinReceive {
		return SwapResult{}, fmt.Errorf("%w: receive %d, min %d", ErrInsufficientAmount, plan.result.Receive, req.MinReceive)
	}

	authority := req.Authority
	if authority.IsZero() {
		authority = req.Trader
	}
	sellMint, buyMint := plan.sellToken.Mint, plan.buyToken.Mint
	if err := e.ledger.Transfer(bank.Account{Owner: req.Trader, Mint: sellMint}, bank.StoreAccount(sellMint), authority, req.SellAmount); err != nil {
		return SwapResult{}, err
	}
	now := e.now()
	plan.sellSlot.Amount += req.SellAmount
	plan.sellSlot.Timestamp = now
	plan.buySlot.Amount -= plan.result.Receive
	plan.buySlot.Timestamp = now
	if err := e.putSlot(plan.owner, plan.kind, sellMint, plan.sellSlot); err != nil {
		return SwapResult{}, err
	}
	if err := e.putSlot(plan.owner, plan.kind, buyMint, plan.buySlot); err != nil {
		return SwapResult{}, err
	}
	if err := e.ledger.Transfer(bank.StoreAccount(buyMint), bank.Account{Owner: req.Trader, Mint: buyMint}, bank.CustodyAuthority(), plan.result.Receive); err != nil {
		return SwapResult{}, err
	}
	return plan.result, nil
}

// plan validates a swap and computes its outcome. It never writes.
func (e *Engine) plan(owner crypto.Address, kind Kind, sell, buy uint8, amount uint64) (*swapPlan, error) {
	if sell == buy {
		return nil, fmt.Errorf("%w: sell and buy positions must differ", ErrInvalidRequest)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if e.prices == nil || e.ledger == nil {
		return nil, errNilState
	}
	reg, err := e.registry.Load()
	if err != nil {
		return nil, err
	}
	sellToken, ok := reg.Token(sell)
	if !ok {
		return nil, registry.ErrInvalidPosition
	}
	buyToken, ok := reg.Token(buy)
	if !ok {
		return nil, registry.ErrInvalidPosition
	}
	t, err := e.loadType(owner, kind)
	if err != nil {
		return nil, err
	}

	// Liquidity providers only need the two traded positions; portfolio
	// managers price every holding.
	positions := []uint8{sell, buy}
	sellIdx, buyIdx := 0, 1
	if _, isPM := t.(PortfolioManager); isPM {
		positions = positions[:0]
		for i := range reg.Tokens {
			positions = append(positions, uint8(i))
		}
		sellIdx, buyIdx = int(sell), int(buy)
	}
	portfolio, decimals, err := e.portfolio(owner, t, reg, positions, sell, buy)
	if err != nil {
		return nil, err
	}
	sellSlot, buySlot := portfolio[sellIdx].Slot, portfolio[buyIdx].Slot

	if !buySlot.ProvideStatus {
		return nil, ErrProvideDisabled
	}
	if !sellSlot.ReceiveStatus {
		return nil, ErrReceiveDisabled
	}
	buyRecord, err := e.prices.FreshPriceOf(buyToken.Mint)
	if err != nil {
		return nil, err
	}
	if buySlot.LimitPriceStatus && buyRecord.Price < buySlot.LimitPrice {
		return nil, fmt.Errorf("%w: price %d, limit %d", ErrLimitPrice, buyRecord.Price, buySlot.LimitPrice)
	}

	fees, err := e.fees.Quote(t, portfolio, sellIdx, buyIdx)
	if err != nil {
		return nil, err
	}
	sellPrice, buyPrice := portfolio[sellIdx].Price, portfolio[buyIdx].Price
	receive, err := receiveAmount(amount, sellPrice, buyPrice, fees, sellToken.Decimals, buyToken.Decimals)
	if err != nil {
		return nil, err
	}
	if receive == 0 {
		return nil, fmt.Errorf("%w: swap rounds to zero", ErrInsufficientAmount)
	}
	if buySlot.Amount < receive {
		return nil, ErrVaultInsufficientAmount
	}
	newSell, err := common.CheckedAdd(sellSlot.Amount, amount)
	if err != nil {
		return nil, err
	}
	newBuy := buySlot.Amount - receive

	switch t.(type) {
	case LiquidityProvider:
		if newSell > sellSlot.Max {
			return nil, ErrAboveMax
		}
		if newBuy < buySlot.Min {
			return nil, ErrBelowMin
		}
	case PortfolioManager:
		if err := checkWeights(portfolio, sellIdx, buyIdx, newSell, newBuy); err != nil {
			return nil, err
		}
	}

	return &swapPlan{
		kind:      kind,
		owner:     owner,
		sellToken: sellToken,
		buyToken:  buyToken,
		sellSlot:  sellSlot,
		buySlot:   buySlot,
		result: SwapResult{
			Receive:       receive,
			Fees:          fees,
			SellPrice:     sellPrice,
			BuyPrice:      buyPrice,
			PriceDecimals: decimals,
		},
	}, nil
}

// portfolio loads slots and prices for positions. Prices are rescaled to the
// widest scale among the records used. Holdings other than the traded pair
// only need a price when they hold a balance.
func (e *Engine) portfolio(owner crypto.Address, t VaultType, reg *registry.Registry, positions []uint8, sell, buy uint8) (Portfolio, uint8, error) {
	out := make(Portfolio, len(positions))
	records := make([]oracle.PriceRecord, len(positions))
	var decimals uint8
	for i, pos := range positions {
		token, _ := reg.Token(pos)
		slot, _, err := e.loadSlot(owner, t, token.Mint)
		if err != nil {
			return nil, 0, err
		}
		out[i] = Holding{Mint: token.Mint, Decimals: token.Decimals, Slot: slot}
		if pos != sell && pos != buy && slot.Amount == 0 {
			continue
		}
		record, err := e.prices.FreshPriceOf(token.Mint)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", token.Symbol, err)
		}
		records[i] = record
		if record.Decimals > decimals {
			decimals = record.Decimals
		}
	}
	for i := range out {
		if records[i].Price == 0 {
			continue
		}
		price, err := common.Rescale(records[i].Price, records[i].Decimals, decimals)
		if err != nil {
			return nil, 0, err
		}
		out[i].Price = price
	}
	return out, decimals, nil
}

// receiveAmount applies
//
//	effective = sellPrice*(BP-sellFee)/BP * 10^buyDecimals / (buyPrice*(BP+buyFee)/BP)
//	receive   = amount * effective / 10^sellDecimals
//
// flooring at every division.
func receiveAmount(amount, sellPrice, buyPrice uint64, fees Fees, sellDecimals, buyDecimals uint8) (uint64, error) {
	bp := common.Wide(common.BasisPoints)
	sellAdj, err := common.WideMulDiv(common.Wide(sellPrice), common.Wide(common.BasisPoints-uint64(fees.Sell)), bp)
	if err != nil {
		return 0, err
	}
	buyAdj, err := common.WideMulDiv(common.Wide(buyPrice), common.Wide(common.BasisPoints+uint64(fees.Buy)), bp)
	if err != nil {
		return 0, err
	}
	if buyAdj.IsZero() {
		return 0, oracle.ErrPriceUnavailable
	}
	buyScale, err := common.Pow10(buyDecimals)
	if err != nil {
		return 0, err
	}
	sellScale, err := common.Pow10(sellDecimals)
	if err != nil {
		return 0, err
	}
	effective, err := common.WideMulDiv(sellAdj, buyScale, buyAdj)
	if err != nil {
		return 0, err
	}
	receive, err := common.WideMulDiv(common.Wide(amount), effective, sellScale)
	if err != nil {
		return 0, err
	}
	return common.Narrow(receive)
}

// checkWeights enforces portfolio bounds after the trade: the received asset
// may not exceed its max weight and the provided asset may not drop below its
// min weight.
func checkWeights(portfolio Portfolio, sellIdx, buyIdx int, newSell, newBuy uint64) error {
	after := append(Portfolio(nil), portfolio...)
	after[sellIdx].Slot.Amount = newSell
	after[buyIdx].Slot.Amount = newBuy
	total, err := after.TotalUSD()
	if err != nil {
		return err
	}
	weight := func(i int) (uint64, error) {
		value, err := after[i].USDValue()
		if err != nil {
			return 0, err
		}
		return Weight(value, total)
	}
	sellWeight, err := weight(sellIdx)
	if err != nil {
		return err
	}
	if sellWeight > after[sellIdx].Slot.Max {
		return fmt.Errorf("%w: weight %d bps, max %d", ErrAboveMax, sellWeight, after[sellIdx].Slot.Max)
	}
	buyWeight, err := weight(buyIdx)
	if err != nil {
		return err
	}
	if buyWeight < after[buyIdx].Slot.Min {
		return fmt.Errorf("%w: weight %d bps, min %d", ErrBelowMin, buyWeight, after[buyIdx].Slot.Min)
	}
	return nil
}
