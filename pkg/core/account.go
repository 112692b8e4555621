package core

import "math/big"

// Account is the per-address ledger entry: balance never negative, nonce
// monotonically non-decreasing.
type Account struct {
	Balance *big.Int
	Nonce   uint64
}

func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

func (a *Account) Clone() *Account {
	return &Account{Balance: new(big.Int).Set(a.Balance), Nonce: a.Nonce}
}

// CanSpend reports whether the account can afford amount+fee without
// going negative.
func (a *Account) CanSpend(total *big.Int) bool {
	return a.Balance.Cmp(total) >= 0
}
