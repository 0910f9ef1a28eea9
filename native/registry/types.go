package registry

import (
	"strings"

	"delphor/crypto"
)

const (
	// MaxTokens caps the registry. Vault slot counts follow it.
	MaxTokens = 64
	// MaxSymbolLength matches the longest symbol an external feed publishes.
	MaxSymbolLength = 36
	// MaxTokenDecimals bounds the decimal precision a token may declare.
	MaxTokenDecimals = 18
)

// Token describes one registered asset. Its position in the registry is its
// index and never changes.
type Token struct {
	Mint     crypto.Address
	Symbol   string
	Decimals uint8
	// Feed references. A zero address or empty string means the source is absent.
	PythPriceAccount       crypto.Address
	SwitchboardFeedAccount crypto.Address
	OffchainFeed           string
}

// FeedSymbol is the symbol off-chain observations for this token are posted
// under. Empty when the token has no off-chain feed.
func (t Token) FeedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(t.OffchainFeed))
}

// Registry is the append-only token list and the identity allowed to extend it.
type Registry struct {
	Admin  crypto.Address
	Tokens []Token
}

// IsAdmin reports whether caller may mutate the registry.
func (r *Registry) IsAdmin(caller crypto.Address) bool {
	return r != nil && r.Admin.Equal(caller)
}

// Position returns the index of mint.
func (r *Registry) Position(mint crypto.Address) (uint8, bool) {
	if r == nil {
		return 0, false
	}
	for i, token := range r.Tokens {
		if token.Mint.Equal(mint) {
			return uint8(i), true
		}
	}
	return 0, false
}

// CheckPosition resolves position and, when mint is set, verifies that it is
// the token registered there.
func (r *Registry) CheckPosition(position uint8, mint crypto.Address) (Token, error) {
	token, ok := r.Token(position)
	if !ok {
		return Token{}, ErrInvalidPosition
	}
	if !mint.IsZero() && !token.Mint.Equal(mint) {
		return Token{}, ErrTokenMismatch
	}
	return token, nil
}

// Token returns the token registered at position.
func (r *Registry) Token(position uint8) (Token, bool) {
	if r == nil || int(position) >= len(r.Tokens) {
		return Token{}, false
	}
	return r.Tokens[position], true
}

type storedToken struct {
	Mint        []byte
	Symbol      string
	Decimals    uint8
	Pyth        []byte
	Switchboard []byte
	Offchain    string
}

type storedRegistry struct {
	Admin  []byte
	Tokens []storedToken
}

func optionalAddress(prefix crypto.AddressPrefix, b []byte) crypto.Address {
	if len(b) != crypto.AddressLength {
		return crypto.Address{}
	}
	return crypto.NewAddress(prefix, b)
}

func (s storedRegistry) decode() *Registry {
	reg := &Registry{
		Admin:  optionalAddress(crypto.AccountPrefix, s.Admin),
		Tokens: make([]Token, 0, len(s.Tokens)),
	}
	for _, t := range s.Tokens {
		reg.Tokens = append(reg.Tokens, Token{
			Mint:                   optionalAddress(crypto.MintPrefix, t.Mint),
			Symbol:                 t.Symbol,
			Decimals:               t.Decimals,
			PythPriceAccount:       optionalAddress(crypto.FeedPrefix, t.Pyth),
			SwitchboardFeedAccount: optionalAddress(crypto.FeedPrefix, t.Switchboard),
			OffchainFeed:           t.Offchain,
		})
	}
	return reg
}

func encodeRegistry(reg *Registry) storedRegistry {
	out := storedRegistry{
		Admin:  reg.Admin.Bytes(),
		Tokens: make([]storedToken, 0, len(reg.Tokens)),
	}
	for _, t := range reg.Tokens {
		out.Tokens = append(out.Tokens, storedToken{
			Mint:        t.Mint.Bytes(),
			Symbol:      t.Symbol,
			Decimals:    t.Decimals,
			Pyth:        t.PythPriceAccount.Bytes(),
			Switchboard: t.SwitchboardFeedAccount.Bytes(),
			Offchain:    t.OffchainFeed,
		})
	}
	return out
}
