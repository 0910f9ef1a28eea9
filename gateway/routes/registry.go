package routes

import (
	"net/http"

	"delphor/native/registry"
)

type tokenJSON struct {
	Position               uint8  `json:"position"`
	Mint                   string `json:"mint"`
	Symbol                 string `json:"symbol"`
	Decimals               uint8  `json:"decimals"`
	PythPriceAccount       string `json:"pythPriceAccount,omitempty"`
	SwitchboardFeedAccount string `json:"switchboardFeedAccount,omitempty"`
	OffchainFeed           string `json:"offchainFeed,omitempty"`
}

type registryJSON struct {
	Admin  string      `json:"admin"`
	Tokens []tokenJSON `json:"tokens"`
}

func tokenView(position uint8, token registry.Token) tokenJSON {
	view := tokenJSON{
		Position:     position,
		Mint:         token.Mint.String(),
		Symbol:       token.Symbol,
		Decimals:     token.Decimals,
		OffchainFeed: token.OffchainFeed,
	}
	if !token.PythPriceAccount.IsZero() {
		view.PythPriceAccount = token.PythPriceAccount.String()
	}
	if !token.SwitchboardFeedAccount.IsZero() {
		view.SwitchboardFeedAccount = token.SwitchboardFeedAccount.String()
	}
	return view
}

func (a *api) getRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := a.node.Registry()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := registryJSON{Admin: reg.Admin.String(), Tokens: make([]tokenJSON, 0, len(reg.Tokens))}
	for i, token := range reg.Tokens {
		out.Tokens = append(out.Tokens, tokenView(uint8(i), token))
	}
	writeJSON(w, http.StatusOK, out)
}

type addTokenRequest struct {
	Mint                   string `json:"mint"`
	Symbol                 string `json:"symbol"`
	Decimals               uint8  `json:"decimals"`
	PythPriceAccount       string `json:"pythPriceAccount"`
	SwitchboardFeedAccount string `json:"switchboardFeedAccount"`
	OffchainFeed           string `json:"offchainFeed"`
}

func (a *api) addToken(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token := registry.Token{Symbol: req.Symbol, Decimals: req.Decimals, OffchainFeed: req.OffchainFeed}
	if token.Mint, err = parseMint(req.Mint, "mint"); err != nil {
		writeError(w, r, err)
		return
	}
	if token.PythPriceAccount, err = parseFeed(req.PythPriceAccount, "pythPriceAccount"); err != nil {
		writeError(w, r, err)
		return
	}
	if token.SwitchboardFeedAccount, err = parseFeed(req.SwitchboardFeedAccount, "switchboardFeedAccount"); err != nil {
		writeError(w, r, err)
		return
	}
	position, err := a.node.AddToken(from, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reg, err := a.node.Registry(); err == nil {
		if stored, ok := reg.Token(position); ok {
			token = stored
		}
	}
	writeJSON(w, http.StatusCreated, tokenView(position, token))
}

type setAdminRequest struct {
	Admin string `json:"admin"`
}

func (a *api) setRegistryAdmin(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	next, err := parseAccount(req.Admin, "admin")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.node.SetRegistryAdmin(from, next); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": next.String()})
}
