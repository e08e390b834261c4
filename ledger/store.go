package ledger

import (
	"bytes"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

type balanceKey struct {
	account common.Address
	asset   types.Asset
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
	asset   types.Asset
}

type store struct {
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     [2]*uint256.Int
}

// NewStore returns an empty ledger store ready to be mounted.
func NewStore() chain.Store {
	return &store{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
	}
}

func (s *store) Clone() chain.Store {
	c := &store{
		balances:   make(map[balanceKey]*uint256.Int, len(s.balances)),
		allowances: make(map[allowanceKey]*uint256.Int, len(s.allowances)),
		supply:     [2]*uint256.Int{s.supply[0].Clone(), s.supply[1].Clone()},
	}
	for k, v := range s.balances {
		c.balances[k] = v.Clone()
	}
	for k, v := range s.allowances {
		c.allowances[k] = v.Clone()
	}
	return c
}

func (s *store) Fingerprint(h *xxhash.Digest) {
	bk := make([]balanceKey, 0, len(s.balances))
	for k, v := range s.balances {
		if !v.IsZero() {
			bk = append(bk, k)
		}
	}
	sort.Slice(bk, func(i, j int) bool {
		if c := bytes.Compare(bk[i].account[:], bk[j].account[:]); c != 0 {
			return c < 0
		}
		return bk[i].asset < bk[j].asset
	})
	for _, k := range bk {
		_, _ = h.Write(k.account[:])
		_, _ = h.Write([]byte{byte(k.asset)})
		b := s.balances[k].Bytes32()
		_, _ = h.Write(b[:])
	}

	ak := make([]allowanceKey, 0, len(s.allowances))
	for k, v := range s.allowances {
		if !v.IsZero() {
			ak = append(ak, k)
		}
	}
	sort.Slice(ak, func(i, j int) bool {
		if c := bytes.Compare(ak[i].owner[:], ak[j].owner[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(ak[i].spender[:], ak[j].spender[:]); c != 0 {
			return c < 0
		}
		return ak[i].asset < ak[j].asset
	})
	for _, k := range ak {
		_, _ = h.Write(k.owner[:])
		_, _ = h.Write(k.spender[:])
		_, _ = h.Write([]byte{byte(k.asset)})
		b := s.allowances[k].Bytes32()
		_, _ = h.Write(b[:])
	}
}

func (s *store) balance(account common.Address, asset types.Asset) *uint256.Int {
	if v, ok := s.balances[balanceKey{account, asset}]; ok {
		return v
	}
	return new(uint256.Int)
}

func (s *store) setBalance(account common.Address, asset types.Asset, v *uint256.Int) {
	if v.IsZero() {
		delete(s.balances, balanceKey{account, asset})
		return
	}
	s.balances[balanceKey{account, asset}] = v
}

func (s *store) allowance(owner, spender common.Address, asset types.Asset) *uint256.Int {
	if v, ok := s.allowances[allowanceKey{owner, spender, asset}]; ok {
		return v
	}
	return new(uint256.Int)
}

func (s *store) setAllowance(owner, spender common.Address, asset types.Asset, v *uint256.Int) {
	if v.IsZero() {
		delete(s.allowances, allowanceKey{owner, spender, asset})
		return
	}
	s.allowances[allowanceKey{owner, spender, asset}] = v
}
