package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"delphor/crypto"
	"delphor/native/oracle"
)

// readingJSON carries one feed reading. A fixed-point price is given as
// price/decimals; pyth-style feeds may send mantissa/expo instead and
// switchboard-style feeds a floating result.
type readingJSON struct {
	Source   string   `json:"source"`
	Price    Amount   `json:"price"`
	Decimals uint8    `json:"decimals"`
	Status   string   `json:"status"`
	Mantissa *int64   `json:"mantissa,omitempty"`
	Expo     *int32   `json:"expo,omitempty"`
	Result   *float64 `json:"result,omitempty"`
}

type priceJSON struct {
	Position   uint8    `json:"position"`
	Price      Amount   `json:"price"`
	Decimals   uint8    `json:"decimals"`
	LastUpdate uint64   `json:"lastUpdate"`
	Sources    []string `json:"sources"`
	Mode       string   `json:"mode"`
	CV         uint64   `json:"cv"`
}

type observationJSON struct {
	Symbol    string        `json:"symbol"`
	Readings  []readingJSON `json:"readings"`
	UpdatedAt uint64        `json:"updatedAt"`
}

type readingsRequest struct {
	Readings []readingJSON `json:"readings"`
}

type observationRequest struct {
	Symbol   string        `json:"symbol"`
	Readings []readingJSON `json:"readings"`
}

func toReadings(in []readingJSON) ([]oracle.Reading, error) {
	out := make([]oracle.Reading, 0, len(in))
	for i, r := range in {
		reading, err := r.decode()
		if err != nil {
			return nil, badRequest("readings[%d]: %v", i, err)
		}
		out = append(out, reading)
	}
	return out, nil
}

func (r readingJSON) decode() (oracle.Reading, error) {
	status := oracle.ParseStatus(r.Status)
	switch {
	case r.Mantissa != nil || r.Expo != nil:
		if r.Mantissa == nil || r.Expo == nil || r.Result != nil {
			return oracle.Reading{}, errors.New("mantissa and expo must be sent together")
		}
		return oracle.FromExponent(r.Source, *r.Mantissa, *r.Expo, status)
	case r.Result != nil:
		return oracle.FromDecimalResult(r.Source, *r.Result, status)
	default:
		return oracle.Reading{Source: r.Source, Price: uint64(r.Price), Decimals: r.Decimals, Status: status}, nil
	}
}

func readingViews(in []oracle.Reading) []readingJSON {
	out := make([]readingJSON, 0, len(in))
	for _, r := range in {
		out = append(out, readingJSON{Source: r.Source, Price: Amount(r.Price), Decimals: r.Decimals, Status: r.Status.String()})
	}
	return out
}

func priceView(position uint8, rec oracle.PriceRecord) priceJSON {
	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	return priceJSON{
		Position:   position,
		Price:      Amount(rec.Price),
		Decimals:   rec.Decimals,
		LastUpdate: rec.LastUpdate,
		Sources:    sources,
		Mode:       rec.Mode.String(),
		CV:         rec.CV,
	}
}

func (a *api) getPrice(w http.ResponseWriter, r *http.Request) {
	position, err := a.positionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := a.node.Price(position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceView(position, rec))
}

func (a *api) updatePrice(w http.ResponseWriter, r *http.Request) {
	a.publishPrice(w, r, a.node.UpdatePrice)
}

func (a *api) refreshPrice(w http.ResponseWriter, r *http.Request) {
	a.publishPrice(w, r, a.node.RefreshPrice)
}

type publishFunc func(caller crypto.Address, position uint8, readings []oracle.Reading) (oracle.PriceRecord, error)

func (a *api) publishPrice(w http.ResponseWriter, r *http.Request, publish publishFunc) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	position, err := a.positionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req readingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	readings, err := toReadings(req.Readings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := publish(from, position, readings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceView(position, rec))
}

func (a *api) submitObservation(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req observationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	readings, err := toReadings(req.Readings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := a.node.SubmitObservation(from, req.Symbol, readings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, observationJSON{Symbol: obs.Symbol, Readings: readingViews(obs.Readings), UpdatedAt: obs.UpdatedAt})
}

func (a *api) getObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := a.node.Observation(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, observationJSON{Symbol: obs.Symbol, Readings: readingViews(obs.Readings), UpdatedAt: obs.UpdatedAt})
}
