package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func setup(t *testing.T) (*chain.Chain, Keeper) {
	c := chain.New(chain.NewManualClock(time.Unix(0, 0)), zaptest.NewLogger(t), nil)
	require.NoError(t, c.Mount(StoreKey, NewStore()))
	k := NewKeeper(StoreKey)
	require.NoError(t, c.Execute(context.Background(), "genesis", func(ctx chain.Context) error {
		return k.Mint(ctx, alice, types.AssetA, types.Units(100))
	}))
	return c, k
}

func balance(t *testing.T, c *chain.Chain, k Keeper, who common.Address, asset types.Asset) *big.Int {
	var out *big.Int
	require.NoError(t, c.Query(context.Background(), func(ctx chain.Context) error {
		out = k.BalanceOf(ctx, who, asset)
		return nil
	}))
	return out
}

func TestTransfer(t *testing.T) {
	c, k := setup(t)

	tests := []struct {
		name    string
		amount  *big.Int
		asset   types.Asset
		wantErr error
	}{
		{"ok", types.Units(40), types.AssetA, nil},
		{"insufficient", types.Units(61), types.AssetA, types.ErrInsufficientBalance},
		{"other asset", types.Units(1), types.AssetB, types.ErrInsufficientBalance},
		{"zero", new(big.Int), types.AssetA, types.ErrInvalidAmount},
		{"negative", big.NewInt(-1), types.AssetA, types.ErrInvalidAmount},
		{"bad asset", types.Units(1), types.Asset(7), types.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Execute(context.Background(), "transfer", func(ctx chain.Context) error {
				return k.Transfer(ctx, alice, bob, tt.asset, tt.amount)
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	assert.Equal(t, types.Units(60), balance(t, c, k, alice, types.AssetA))
	assert.Equal(t, types.Units(40), balance(t, c, k, bob, types.AssetA))
}

func TestPull(t *testing.T) {
	c, k := setup(t)

	err := c.Execute(context.Background(), "pull", func(ctx chain.Context) error {
		return k.Pull(ctx, alice, bob, types.AssetA, types.Units(1))
	})
	require.ErrorIs(t, err, types.ErrInsufficientApproval)

	require.NoError(t, c.Execute(context.Background(), "approve+pull", func(ctx chain.Context) error {
		if err := k.Approve(ctx, alice, bob, types.AssetA, types.Units(30)); err != nil {
			return err
		}
		return k.Pull(ctx, alice, bob, types.AssetA, types.Units(10))
	}))

	var left *big.Int
	require.NoError(t, c.Query(context.Background(), func(ctx chain.Context) error {
		left = k.Allowance(ctx, alice, bob, types.AssetA)
		return nil
	}))
	assert.Equal(t, types.Units(20), left)
	assert.Equal(t, types.Units(10), balance(t, c, k, bob, types.AssetA))

	// approval covers the pull but the balance does not
	err = c.Execute(context.Background(), "overdraw", func(ctx chain.Context) error {
		if err := k.Approve(ctx, alice, bob, types.AssetA, types.Units(1000)); err != nil {
			return err
		}
		return k.Pull(ctx, alice, bob, types.AssetA, types.Units(91))
	})
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestMaxAllowanceIsNotDecremented(t *testing.T) {
	c, k := setup(t)

	require.NoError(t, c.Execute(context.Background(), "pull", func(ctx chain.Context) error {
		if err := k.Approve(ctx, alice, bob, types.AssetA, MaxAllowance); err != nil {
			return err
		}
		return k.Pull(ctx, alice, bob, types.AssetA, types.Units(5))
	}))
	require.NoError(t, c.Query(context.Background(), func(ctx chain.Context) error {
		assert.Equal(t, MaxAllowance, k.Allowance(ctx, alice, bob, types.AssetA))
		return nil
	}))
}

func TestOverflow(t *testing.T) {
	c, k := setup(t)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	err := c.Execute(context.Background(), "mint", func(ctx chain.Context) error {
		return k.Mint(ctx, bob, types.AssetB, tooBig)
	})
	require.ErrorIs(t, err, types.ErrOverflow)

	err = c.Execute(context.Background(), "mint", func(ctx chain.Context) error {
		return k.Mint(ctx, alice, types.AssetA, MaxAllowance)
	})
	require.ErrorIs(t, err, types.ErrOverflow)
}

func TestFingerprintTracksBalances(t *testing.T) {
	c, k := setup(t)
	before := c.Fingerprint()

	err := c.Execute(context.Background(), "fail", func(ctx chain.Context) error {
		if err := k.Transfer(ctx, alice, bob, types.AssetA, types.Units(1)); err != nil {
			return err
		}
		return k.Transfer(ctx, bob, alice, types.AssetB, types.Units(1))
	})
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Equal(t, before, c.Fingerprint())

	require.NoError(t, c.Execute(context.Background(), "ok", func(ctx chain.Context) error {
		return k.Transfer(ctx, alice, bob, types.AssetA, types.Units(1))
	}))
	assert.NotEqual(t, before, c.Fingerprint())
}

func TestTotalSupply(t *testing.T) {
	c, k := setup(t)
	require.NoError(t, c.Query(context.Background(), func(ctx chain.Context) error {
		assert.Equal(t, types.Units(100), k.TotalSupply(ctx, types.AssetA))
		assert.Equal(t, 0, k.TotalSupply(ctx, types.AssetB).Sign())
		return nil
	}))
}
