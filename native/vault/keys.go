package vault

import "delphor/crypto"

var (
	headerPrefix = []byte("vault/header/")
	slotPrefix   = []byte("vault/slot/")
	vaultIndex   = []byte("vault/index")
)

func vaultID(owner crypto.Address, kind Kind) []byte {
	raw := owner.Bytes()
	buf := make([]byte, 0, len(raw)+1)
	buf = append(buf, byte(kind))
	return append(buf, raw...)
}

func headerKey(owner crypto.Address, kind Kind) []byte {
	id := vaultID(owner, kind)
	buf := make([]byte, 0, len(headerPrefix)+len(id))
	buf = append(buf, headerPrefix...)
	return append(buf, id...)
}

func slotKey(owner crypto.Address, kind Kind, mint crypto.Address) []byte {
	id := vaultID(owner, kind)
	raw := mint.Bytes()
	buf := make([]byte, 0, len(slotPrefix)+len(id)+len(raw))
	buf = append(buf, slotPrefix...)
	buf = append(buf, id...)
	return append(buf, raw...)
}

func parseVaultID(id []byte) (crypto.Address, Kind, bool) {
	if len(id) != crypto.AddressLength+1 {
		return crypto.Address{}, 0, false
	}
	return crypto.NewAddress(crypto.AccountPrefix, id[1:]), Kind(id[0]), true
}
