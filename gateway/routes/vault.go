package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"delphor/native/vault"
)

const defaultCounterpartyLimit = 10

type slotJSON struct {
	Position         uint8  `json:"position"`
	Symbol           string `json:"symbol"`
	Amount           Amount `json:"amount"`
	Min              Amount `json:"min"`
	Max              Amount `json:"max"`
	Mid              Amount `json:"mid"`
	BuyFee           uint16 `json:"buyFee"`
	SellFee          uint16 `json:"sellFee"`
	Timestamp        uint64 `json:"timestamp"`
	ReceiveStatus    bool   `json:"receiveStatus"`
	ProvideStatus    bool   `json:"provideStatus"`
	LimitPriceStatus bool   `json:"limitPriceStatus"`
	LimitPrice       Amount `json:"limitPrice"`
}

type vaultJSON struct {
	Owner     string     `json:"owner"`
	Kind      string     `json:"kind"`
	AutoFee   bool       `json:"autoFee,omitempty"`
	Tolerance uint16     `json:"tolerance,omitempty"`
	Slots     []slotJSON `json:"slots"`
}

type vaultRefJSON struct {
	Owner string `json:"owner"`
	Kind  string `json:"kind"`
}

type feesJSON struct {
	Sell uint16 `json:"sell"`
	Buy  uint16 `json:"buy"`
}

type swapResultJSON struct {
	Receive       Amount   `json:"receive"`
	Fees          feesJSON `json:"fees"`
	SellPrice     Amount   `json:"sellPrice"`
	BuyPrice      Amount   `json:"buyPrice"`
	PriceDecimals uint8    `json:"priceDecimals"`
}

type candidateJSON struct {
	Owner   string   `json:"owner"`
	Kind    string   `json:"kind"`
	Receive Amount   `json:"receive"`
	Fees    feesJSON `json:"fees"`
	Score   Amount   `json:"score"`
}

func slotView(position uint8, symbol string, slot vault.CoinVault) slotJSON {
	return slotJSON{
		Position:         position,
		Symbol:           symbol,
		Amount:           Amount(slot.Amount),
		Min:              Amount(slot.Min),
		Max:              Amount(slot.Max),
		Mid:              Amount(slot.Mid),
		BuyFee:           slot.BuyFee,
		SellFee:          slot.SellFee,
		Timestamp:        slot.Timestamp,
		ReceiveStatus:    slot.ReceiveStatus,
		ProvideStatus:    slot.ProvideStatus,
		LimitPriceStatus: slot.LimitPriceStatus,
		LimitPrice:       Amount(slot.LimitPrice),
	}
}

func resultView(res vault.SwapResult) swapResultJSON {
	return swapResultJSON{
		Receive:       Amount(res.Receive),
		Fees:          feesJSON{Sell: res.Fees.Sell, Buy: res.Fees.Buy},
		SellPrice:     Amount(res.SellPrice),
		BuyPrice:      Amount(res.BuyPrice),
		PriceDecimals: res.PriceDecimals,
	}
}

func (a *api) slotResponse(w http.ResponseWriter, r *http.Request, position uint8, slot vault.CoinVault) {
	symbol := ""
	if reg, err := a.node.Registry(); err == nil {
		if token, ok := reg.Token(position); ok {
			symbol = token.Symbol
		}
	}
	writeJSON(w, http.StatusOK, slotView(position, symbol, slot))
}

func (a *api) listVaults(w http.ResponseWriter, r *http.Request) {
	refs, err := a.node.Vaults()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]vaultRefJSON, 0, len(refs))
	for _, ref := range refs {
		out = append(out, vaultRefJSON{Owner: ref.Owner.String(), Kind: ref.Kind.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getVault(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAccount(chi.URLParam(r, "owner"), "owner")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.node.Vault(owner, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := a.node.Registry()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := vaultJSON{Owner: owner.String(), Kind: kind.String(), Slots: make([]slotJSON, 0, len(reg.Tokens))}
	switch t := v.Type.(type) {
	case vault.LiquidityProvider:
	case vault.PortfolioManager:
		out.AutoFee = t.AutoFee
		out.Tolerance = t.Tolerance
	}
	for i, token := range reg.Tokens {
		out.Slots = append(out.Slots, slotView(uint8(i), token.Symbol, v.Slot(token.Mint)))
	}
	writeJSON(w, http.StatusOK, out)
}

type initVaultRequest struct {
	Kind string `json:"kind"`
}

func (a *api) initVault(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req initVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.node.InitVault(owner, kind); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vaultRefJSON{Owner: owner.String(), Kind: kind.String()})
}

type slotRequest struct {
	BuyFee           uint16  `json:"buyFee"`
	SellFee          uint16  `json:"sellFee"`
	Min              Amount  `json:"min"`
	Max              *Amount `json:"max"`
	ReceiveStatus    bool    `json:"receiveStatus"`
	ProvideStatus    bool    `json:"provideStatus"`
	LimitPriceStatus bool    `json:"limitPriceStatus"`
	LimitPrice       Amount  `json:"limitPrice"`
}

func (a *api) updateSlot(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	position, err := a.positionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req slotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cfg := vault.SlotConfig{
		BuyFee:           req.BuyFee,
		SellFee:          req.SellFee,
		Min:              uint64(req.Min),
		Max:              ^uint64(0),
		ReceiveStatus:    req.ReceiveStatus,
		ProvideStatus:    req.ProvideStatus,
		LimitPriceStatus: req.LimitPriceStatus,
		LimitPrice:       uint64(req.LimitPrice),
	}
	if req.Max != nil {
		cfg.Max = uint64(*req.Max)
	}
	slot, err := a.node.UpdateSlot(owner, position, cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.slotResponse(w, r, position, slot)
}

type portfolioRequest struct {
	Mid              Amount `json:"mid"`
	LimitPriceStatus bool   `json:"limitPriceStatus"`
	LimitPrice       Amount `json:"limitPrice"`
	Tolerance        uint16 `json:"tolerance"`
}

func (a *api) updatePortfolio(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	position, err := a.positionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req portfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := a.node.UpdatePortfolio(owner, position, vault.PortfolioConfig{
		Mid:              uint64(req.Mid),
		LimitPriceStatus: req.LimitPriceStatus,
		LimitPrice:       uint64(req.LimitPrice),
		Tolerance:        req.Tolerance,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.slotResponse(w, r, position, slot)
}

type custodyRequest struct {
	Owner    string `json:"owner"`
	Kind     string `json:"kind"`
	Position uint8  `json:"position"`
	Mint     string `json:"mint,omitempty"`
	Amount   Amount `json:"amount"`
}

func (a *api) deposit(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req custodyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := parseOptionalAccount(req.Owner, "owner", from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mint, err := parseOptionalMint(req.Mint, "mint")
	if err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := a.node.Deposit(vault.DepositRequest{
		Authority: from,
		Owner:     owner,
		Kind:      kind,
		Position:  req.Position,
		Mint:      mint,
		Amount:    uint64(req.Amount),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.slotResponse(w, r, req.Position, slot)
}

func (a *api) withdraw(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req custodyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := parseOptionalAccount(req.Owner, "owner", from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mint, err := parseOptionalMint(req.Mint, "mint")
	if err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := a.node.Withdraw(vault.WithdrawRequest{
		Caller:   from,
		Owner:    owner,
		Kind:     kind,
		Position: req.Position,
		Mint:     mint,
		Amount:   uint64(req.Amount),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.slotResponse(w, r, req.Position, slot)
}

type swapRequest struct {
	Trader       string `json:"trader"`
	Owner        string `json:"owner"`
	Kind         string `json:"kind"`
	SellPosition uint8  `json:"sellPosition"`
	BuyPosition  uint8  `json:"buyPosition"`
	SellMint     string `json:"sellMint,omitempty"`
	BuyMint      string `json:"buyMint,omitempty"`
	SellAmount   Amount `json:"sellAmount"`
	MinReceive   Amount `json:"minReceive"`
}

func (a *api) swap(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trader, err := parseOptionalAccount(req.Trader, "trader", from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := parseAccount(req.Owner, "owner")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sellMint, err := parseOptionalMint(req.SellMint, "sellMint")
	if err != nil {
		writeError(w, r, err)
		return
	}
	buyMint, err := parseOptionalMint(req.BuyMint, "buyMint")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.node.Swap(vault.SwapRequest{
		Trader:       trader,
		Authority:    from,
		Owner:        owner,
		Kind:         kind,
		SellPosition: req.SellPosition,
		BuyPosition:  req.BuyPosition,
		SellMint:     sellMint,
		BuyMint:      buyMint,
		SellAmount:   uint64(req.SellAmount),
		MinReceive:   uint64(req.MinReceive),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultView(res))
}

func (a *api) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := parseAccount(q.Get("owner"), "owner")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := parseKind(q.Get("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sell, err := parsePosition(q.Get("sell"), "sell")
	if err != nil {
		writeError(w, r, err)
		return
	}
	buy, err := parsePosition(q.Get("buy"), "buy")
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseUint(q.Get("amount"), "amount")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.node.Quote(owner, kind, sell, buy, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultView(res))
}

func (a *api) counterparties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sell, err := parsePosition(q.Get("sell"), "sell")
	if err != nil {
		writeError(w, r, err)
		return
	}
	buy, err := parsePosition(q.Get("buy"), "buy")
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseUint(q.Get("amount"), "amount")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var minReceive uint64
	if raw := strings.TrimSpace(q.Get("minReceive")); raw != "" {
		if minReceive, err = parseUint(raw, "minReceive"); err != nil {
			writeError(w, r, err)
			return
		}
	}
	limit := defaultCounterpartyLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	candidates, err := a.node.Counterparties(sell, buy, amount, minReceive, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]candidateJSON, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateJSON{
			Owner:   c.Owner.String(),
			Kind:    c.Kind.String(),
			Receive: Amount(c.Receive),
			Fees:    feesJSON{Sell: c.Fees.Sell, Buy: c.Fees.Buy},
			Score:   Amount(c.Score),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
