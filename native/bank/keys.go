package bank

import "delphor/crypto"

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
	supplyPrefix    = []byte("bank/supply/")
)

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

func balanceKey(acct Account) []byte {
	return joinKey(balancePrefix, acct.Owner.Bytes(), acct.Mint.Bytes())
}

func allowanceKey(acct Account, delegate crypto.Address) []byte {
	return joinKey(allowancePrefix, acct.Owner.Bytes(), acct.Mint.Bytes(), delegate.Bytes())
}

func supplyKey(mint crypto.Address) []byte {
	return joinKey(supplyPrefix, mint.Bytes())
}
