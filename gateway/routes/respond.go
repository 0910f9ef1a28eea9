package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"delphor/core"
	"delphor/crypto"
	"delphor/gateway/middleware"
	"delphor/native/bank"
	"delphor/native/common"
	"delphor/native/oracle"
	"delphor/native/registry"
	"delphor/native/vault"
)

const requestLimit = 1 << 20 // 1 MiB

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes. Order matters only
// where one error wraps another.
var statusFor = []struct {
	err    error
	status int
}{
	{errBadRequest, http.StatusBadRequest},
	{common.ErrModulePaused, http.StatusServiceUnavailable},

	{core.ErrUnauthorized, http.StatusForbidden},
	{registry.ErrUnauthorized, http.StatusForbidden},
	{oracle.ErrUnauthorized, http.StatusForbidden},
	{bank.ErrUnauthorized, http.StatusForbidden},
	{vault.ErrNotOwner, http.StatusForbidden},

	{vault.ErrVaultNotFound, http.StatusNotFound},
	{oracle.ErrObservationAbsent, http.StatusNotFound},
	{registry.ErrNotInitialized, http.StatusNotFound},

	{vault.ErrVaultExists, http.StatusConflict},
	{registry.ErrDuplicateToken, http.StatusConflict},
	{registry.ErrDuplicateSymbol, http.StatusConflict},
	{registry.ErrAlreadyInitialized, http.StatusConflict},

	{core.ErrUnknownModule, http.StatusBadRequest},
	{vault.ErrInvalidRequest, http.StatusBadRequest},
	{vault.ErrExceedsBasisPoints, http.StatusBadRequest},
	{vault.ErrFeeOutOfRange, http.StatusBadRequest},
	{registry.ErrInvalidPosition, http.StatusBadRequest},
	{registry.ErrInvalidToken, http.StatusBadRequest},
	{registry.ErrTokenMismatch, http.StatusBadRequest},
	{oracle.ErrInvalidReading, http.StatusBadRequest},
	{oracle.ErrDuplicateSource, http.StatusBadRequest},
	{oracle.ErrTooManySources, http.StatusBadRequest},
	{oracle.ErrSourceUnavailable, http.StatusBadRequest},
	{bank.ErrInvalidAmount, http.StatusBadRequest},
	{bank.ErrInvalidAccount, http.StatusBadRequest},
	{bank.ErrMintMismatch, http.StatusBadRequest},

	{vault.ErrInsufficientAmount, http.StatusUnprocessableEntity},
	{vault.ErrVaultInsufficientAmount, http.StatusUnprocessableEntity},
	{vault.ErrAboveMax, http.StatusUnprocessableEntity},
	{vault.ErrBelowMin, http.StatusUnprocessableEntity},
	{vault.ErrLimitPrice, http.StatusUnprocessableEntity},
	{vault.ErrProvideDisabled, http.StatusUnprocessableEntity},
	{vault.ErrReceiveDisabled, http.StatusUnprocessableEntity},
	{bank.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{oracle.ErrPricesTooDivergent, http.StatusUnprocessableEntity},
	{oracle.ErrInsufficientSources, http.StatusUnprocessableEntity},
	{oracle.ErrZeroAverage, http.StatusUnprocessableEntity},
	{oracle.ErrPriceUnavailable, http.StatusUnprocessableEntity},
	{oracle.ErrPriceStale, http.StatusUnprocessableEntity},
	{registry.ErrRegistryFull, http.StatusUnprocessableEntity},
	{common.ErrOverflow, http.StatusUnprocessableEntity},
	{common.ErrUnderflow, http.StatusUnprocessableEntity},
	{common.ErrDivisionByZero, http.StatusUnprocessableEntity},
}

func httpStatus(err error) int {
	for _, entry := range statusFor {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, RequestID: middleware.RequestIDFromContext(r.Context())})
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, requestLimit)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

// caller returns the authenticated caller or an error handlers can write.
func caller(r *http.Request) (crypto.Address, error) {
	addr, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return crypto.Address{}, fmt.Errorf("%w: no authenticated caller", core.ErrUnauthorized)
	}
	return addr, nil
}

func parseAccount(raw, field string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddressWithPrefix(strings.TrimSpace(raw), crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func parseOptionalAccount(raw, field string, fallback crypto.Address) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAccount(raw, field)
}

func parseMint(raw, field string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddressWithPrefix(strings.TrimSpace(raw), crypto.MintPrefix)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

// parseOptionalMint returns the zero address when raw is empty.
func parseOptionalMint(raw, field string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	return parseMint(raw, field)
}

func parseFeed(raw, field string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	addr, err := crypto.DecodeAddressWithPrefix(strings.TrimSpace(raw), crypto.FeedPrefix)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func parsePosition(raw, field string) (uint8, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
	if err != nil {
		return 0, badRequest("%s: %v", field, err)
	}
	return uint8(value), nil
}

func parseUint(raw, field string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, badRequest("%s: %v", field, err)
	}
	return value, nil
}

func parseKind(raw string) (vault.Kind, error) {
	kind, err := vault.ParseKind(raw)
	if err != nil {
		return 0, badRequest("kind: %v", err)
	}
	return kind, nil
}

// Amount is a uint64 carried as a decimal string so JavaScript clients do
// not lose precision. Bare JSON numbers are accepted on input.
type Amount uint64

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(a), 10) + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", raw, err)
	}
	*a = Amount(value)
	return nil
}
