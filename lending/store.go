package lending

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
)

// Position is one account's collateral and debt.
type Position struct {
	Collateral *big.Int `json:"collateral"`
	Debt       *big.Int `json:"debt"`
}

func (p Position) clone() Position {
	return Position{
		Collateral: new(big.Int).Set(p.Collateral),
		Debt:       new(big.Int).Set(p.Debt),
	}
}

type store struct {
	positions map[common.Address]Position
}

func NewStore() chain.Store {
	return &store{positions: make(map[common.Address]Position)}
}

func (s *store) Clone() chain.Store {
	c := &store{positions: make(map[common.Address]Position, len(s.positions))}
	for k, v := range s.positions {
		c.positions[k] = v.clone()
	}
	return c
}

func (s *store) Fingerprint(h *xxhash.Digest) {
	keys := make([]common.Address, 0, len(s.positions))
	for k := range s.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })

	var buf [32]byte
	for _, k := range keys {
		p := s.positions[k]
		_, _ = h.Write(k[:])
		_, _ = h.Write(p.Collateral.FillBytes(buf[:]))
		_, _ = h.Write(p.Debt.FillBytes(buf[:]))
	}
}

func (s *store) get(account common.Address) Position {
	if p, ok := s.positions[account]; ok {
		return p
	}
	return Position{Collateral: new(big.Int), Debt: new(big.Int)}
}

// set stores p, which is owned by the store afterwards.
func (s *store) set(account common.Address, p Position) {
	s.positions[account] = p
}
