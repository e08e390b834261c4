package manipulation

import (
	"encoding/binary"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

type store struct {
	runs        uint64
	succeeded   bool
	lastProfit  *big.Int
	beneficiary common.Address
	last        *Trace
}

func NewStore() chain.Store {
	return &store{lastProfit: new(big.Int)}
}

func (s *store) Clone() chain.Store {
	return &store{
		runs:        s.runs,
		succeeded:   s.succeeded,
		lastProfit:  types.Clone(s.lastProfit),
		beneficiary: s.beneficiary,
		last:        s.last.Clone(),
	}
}

func (s *store) Fingerprint(h *xxhash.Digest) {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[:8], s.runs)
	_, _ = h.Write(buf[:8])
	if s.succeeded {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(s.lastProfit.FillBytes(buf[:]))
	_, _ = h.Write(s.beneficiary.Bytes())
}
