package oracle

import "delphor/crypto"

var (
	pricePrefix       = []byte("oracle/price/")
	observationPrefix = []byte("oracle/observation/")
)

func priceKey(mint crypto.Address) []byte {
	raw := mint.Bytes()
	buf := make([]byte, len(pricePrefix)+len(raw))
	copy(buf, pricePrefix)
	copy(buf[len(pricePrefix):], raw)
	return buf
}

func observationKey(symbol string) []byte {
	buf := make([]byte, len(observationPrefix)+len(symbol))
	copy(buf, observationPrefix)
	copy(buf[len(observationPrefix):], symbol)
	return buf
}
