package custody

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// MemoryBank is an in-process custody adapter for demo/development mode
// and tests. Balances are tracked per (asset, account); every transfer
// conserves value exactly, which lets tests assert conservation across
// escrow resolutions.
type MemoryBank struct {
	balances map[string]map[string]*big.Int // asset -> account -> balance
	assets   map[string]bool                // supported assets; empty = allow all
	mu       sync.Mutex
}

// NewMemoryBank creates an empty memory bank supporting all assets.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[string]map[string]*big.Int),
		assets:   make(map[string]bool),
	}
}

// RestrictAssets limits the bank to the given assets; transfers in any
// other asset fail with ErrAssetUnsupported.
func (b *MemoryBank) RestrictAssets(assets ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range assets {
		b.assets[strings.ToLower(a)] = true
	}
}

// Mint credits an account out of thin air. Test and demo setup only.
func (b *MemoryBank) Mint(asset, account string, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(strings.ToLower(asset), strings.ToLower(account), amount)
}

// Balance returns the account's balance in the given asset.
func (b *MemoryBank) Balance(asset, account string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts, ok := b.balances[strings.ToLower(asset)]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := accounts[strings.ToLower(account)]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// TotalSupply returns the sum of all balances in an asset. Constant
// across transfers; useful for conservation assertions.
func (b *MemoryBank) TotalSupply(asset string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := big.NewInt(0)
	for _, bal := range b.balances[strings.ToLower(asset)] {
		total.Add(total, bal)
	}
	return total
}

func (b *MemoryBank) Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	asset = strings.ToLower(asset)
	if len(b.assets) > 0 && !b.assets[asset] {
		return ErrAssetUnsupported
	}

	from = strings.ToLower(from)
	to = strings.ToLower(to)

	accounts, ok := b.balances[asset]
	if !ok {
		return ErrInsufficientBalance
	}
	bal, ok := accounts[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	bal.Sub(bal, amount)
	b.credit(asset, to, amount)
	return nil
}

// credit assumes the lock is held and asset/account are normalized.
func (b *MemoryBank) credit(asset, account string, amount *big.Int) {
	accounts, ok := b.balances[asset]
	if !ok {
		accounts = make(map[string]*big.Int)
		b.balances[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = big.NewInt(0)
		accounts[account] = bal
	}
	bal.Add(bal, amount)
}
