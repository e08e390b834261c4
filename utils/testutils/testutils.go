package testutils

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/ledger"
	"github.com/michaelpento.lv/pricelab/types"
)

// NewChain returns a chain over a manual clock set to start, with the ledger
// store and stores mounted.
func NewChain(t testing.TB, start time.Time, stores map[chain.StoreKey]chain.Store) (*chain.Chain, *chain.ManualClock) {
	clock := chain.NewManualClock(start)
	c := chain.New(clock, zaptest.NewLogger(t), nil)
	require.NoError(t, c.Mount(ledger.StoreKey, ledger.NewStore()))
	for key, st := range stores {
		require.NoError(t, c.Mount(key, st))
	}
	return c, clock
}

// Genesis commits fn as a unit and fails the test if it reverts.
func Genesis(t testing.TB, c *chain.Chain, fn chain.Unit) {
	require.NoError(t, c.Execute(context.Background(), "genesis", fn))
}

// Fund mints amount of asset to account and approves spender for an
// unlimited allowance. A zero amount only approves.
func Fund(ctx chain.Context, lk ledger.Keeper, account, spender common.Address, asset types.Asset, amount *big.Int) error {
	if amount != nil && amount.Sign() > 0 {
		if err := lk.Mint(ctx, account, asset, amount); err != nil {
			return err
		}
	}
	return lk.Approve(ctx, account, spender, asset, ledger.MaxAllowance)
}
