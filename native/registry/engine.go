package registry

import (
	"errors"
	"fmt"
	"strings"

	"delphor/crypto"
)

var (
	errNilState = errors.New("registry engine: state not configured")

	ErrNotInitialized     = errors.New("registry: not initialized")
	ErrAlreadyInitialized = errors.New("registry: already initialized")
	ErrUnauthorized       = errors.New("registry: caller is not the admin")
	ErrRegistryFull       = errors.New("registry: token limit reached")
	ErrDuplicateToken     = errors.New("registry: mint already registered")
	ErrDuplicateSymbol    = errors.New("registry: symbol already registered")
	ErrInvalidToken       = errors.New("registry: invalid token")
	ErrInvalidPosition    = errors.New("registry: invalid position")
	ErrTokenMismatch      = errors.New("registry: mint does not match position")
)

var registryKey = []byte("registry/state")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine mutates and reads the token registry.
type Engine struct {
	state engineState
}

func NewEngine(state engineState) *Engine {
	return &Engine{state: state}
}

// Init records admin as the registry authority. It may run once.
func (e *Engine) Init(admin crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if admin.IsZero() {
		return fmt.Errorf("%w: admin required", ErrInvalidToken)
	}
	ok, err := e.state.KVGet(registryKey, nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	return e.put(&Registry{Admin: admin})
}

// Load returns the current registry.
func (e *Engine) Load() (*Registry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedRegistry
	ok, err := e.state.KVGet(registryKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return stored.decode(), nil
}

func (e *Engine) put(reg *Registry) error {
	return e.state.KVPut(registryKey, encodeRegistry(reg))
}

// AddToken appends token and returns its position. Existing positions never move.
func (e *Engine) AddToken(caller crypto.Address, token Token) (uint8, error) {
	reg, err := e.Load()
	if err != nil {
		return 0, err
	}
	if !reg.IsAdmin(caller) {
		return 0, ErrUnauthorized
	}
	if err := validateToken(&token); err != nil {
		return 0, err
	}
	if len(reg.Tokens) >= MaxTokens {
		return 0, ErrRegistryFull
	}
	for _, existing := range reg.Tokens {
		if existing.Mint.Equal(token.Mint) {
			return 0, ErrDuplicateToken
		}
		if strings.EqualFold(existing.Symbol, token.Symbol) {
			return 0, ErrDuplicateSymbol
		}
	}
	reg.Tokens = append(reg.Tokens, token)
	if err := e.put(reg); err != nil {
		return 0, err
	}
	return uint8(len(reg.Tokens) - 1), nil
}

// SetAdmin hands registry authority to next.
func (e *Engine) SetAdmin(caller, next crypto.Address) error {
	reg, err := e.Load()
	if err != nil {
		return err
	}
	if !reg.IsAdmin(caller) {
		return ErrUnauthorized
	}
	if next.IsZero() {
		return fmt.Errorf("%w: admin required", ErrInvalidToken)
	}
	reg.Admin = next
	return e.put(reg)
}

// Token resolves position to its registered token.
func (e *Engine) Token(position uint8) (Token, error) {
	reg, err := e.Load()
	if err != nil {
		return Token{}, err
	}
	token, ok := reg.Token(position)
	if !ok {
		return Token{}, ErrInvalidPosition
	}
	return token, nil
}

func validateToken(token *Token) error {
	if token.Mint.IsZero() {
		return fmt.Errorf("%w: mint required", ErrInvalidToken)
	}
	token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
	if token.Symbol == "" || len(token.Symbol) > MaxSymbolLength {
		return fmt.Errorf("%w: symbol must be 1-%d bytes", ErrInvalidToken, MaxSymbolLength)
	}
	if strings.ContainsAny(token.Symbol, "/ ") {
		return fmt.Errorf("%w: symbol %q contains a separator", ErrInvalidToken, token.Symbol)
	}
	if token.Decimals > MaxTokenDecimals {
		return fmt.Errorf("%w: decimals %d exceed %d", ErrInvalidToken, token.Decimals, MaxTokenDecimals)
	}
	token.OffchainFeed = strings.TrimSpace(token.OffchainFeed)
	return nil
}
