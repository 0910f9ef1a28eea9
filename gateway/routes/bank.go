package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"delphor/crypto"
	"delphor/native/bank"
)

func (a *api) account(r *http.Request) (bank.Account, error) {
	owner, err := parseAccount(chi.URLParam(r, "owner"), "owner")
	if err != nil {
		return bank.Account{}, err
	}
	position, err := a.positionParam(r)
	if err != nil {
		return bank.Account{}, err
	}
	mint, err := a.mintAt(position)
	if err != nil {
		return bank.Account{}, err
	}
	return bank.Account{Owner: owner, Mint: mint}, nil
}

// positionParam reads the {position} URL parameter. It accepts either the
// registry index or the token's mint address.
func (a *api) positionParam(r *http.Request) (uint8, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "position"))
	if !strings.HasPrefix(raw, string(crypto.MintPrefix)) {
		return parsePosition(raw, "position")
	}
	mint, err := parseMint(raw, "position")
	if err != nil {
		return 0, err
	}
	reg, err := a.node.Registry()
	if err != nil {
		return 0, err
	}
	position, ok := reg.Position(mint)
	if !ok {
		return 0, badRequest("mint %s is not registered", raw)
	}
	return position, nil
}

func (a *api) mintAt(position uint8) (crypto.Address, error) {
	reg, err := a.node.Registry()
	if err != nil {
		return crypto.Address{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return crypto.Address{}, badRequest("no token at position %d", position)
	}
	return token.Mint, nil
}

func (a *api) getSupply(w http.ResponseWriter, r *http.Request) {
	position, err := a.positionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	supply, err := a.node.Supply(position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Amount{"supply": Amount(supply)})
}

func (a *api) getBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := a.node.Balance(acct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Amount{"balance": Amount(balance)})
}

func (a *api) getAllowance(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	delegate, err := parseAccount(chi.URLParam(r, "delegate"), "delegate")
	if err != nil {
		writeError(w, r, err)
		return
	}
	allowance, err := a.node.Allowance(acct, delegate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Amount{"allowance": Amount(allowance)})
}

type mintRequest struct {
	Position uint8  `json:"position"`
	Owner    string `json:"owner"`
	Amount   Amount `json:"amount"`
}

func (a *api) mint(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := parseAccount(req.Owner, "owner")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.node.Mint(from, req.Position, owner, uint64(req.Amount)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	Position uint8  `json:"position"`
	Delegate string `json:"delegate"`
	Amount   Amount `json:"amount"`
}

func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	delegate, err := parseAccount(req.Delegate, "delegate")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.node.Approve(from, req.Position, delegate, uint64(req.Amount)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
