package chain

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Store is the state owned by one keeper. Clone must return a deep copy so
// that a discarded unit leaves the original untouched.
type Store interface {
	Clone() Store
	// Fingerprint writes a canonical encoding of the store into h. Two
	// stores holding equal state must write identical bytes.
	Fingerprint(h *xxhash.Digest)
}

// StoreKey names a mounted store.
type StoreKey string

// MultiStore is the set of all mounted keeper stores.
type MultiStore struct {
	stores map[StoreKey]Store
	keys   []StoreKey
}

func NewMultiStore() *MultiStore {
	return &MultiStore{stores: make(map[StoreKey]Store)}
}

// Mount registers s under key. Keys are unique.
func (ms *MultiStore) Mount(key StoreKey, s Store) error {
	if _, ok := ms.stores[key]; ok {
		return fmt.Errorf("store %q already mounted", key)
	}
	ms.stores[key] = s
	ms.keys = append(ms.keys, key)
	sort.Slice(ms.keys, func(i, j int) bool { return ms.keys[i] < ms.keys[j] })
	return nil
}

// GetStore panics on an unknown key, the same way a keeper wired to a
// missing store would fail at startup.
func (ms *MultiStore) GetStore(key StoreKey) Store {
	s, ok := ms.stores[key]
	if !ok {
		panic(fmt.Sprintf("store %q not mounted", key))
	}
	return s
}

func (ms *MultiStore) Has(key StoreKey) bool {
	_, ok := ms.stores[key]
	return ok
}

// Clone deep-copies every mounted store.
func (ms *MultiStore) Clone() *MultiStore {
	c := &MultiStore{
		stores: make(map[StoreKey]Store, len(ms.stores)),
		keys:   append([]StoreKey(nil), ms.keys...),
	}
	for k, s := range ms.stores {
		c.stores[k] = s.Clone()
	}
	return c
}

// write replaces the stores of ms with those of child.
func (ms *MultiStore) write(child *MultiStore) {
	for k, s := range child.stores {
		ms.stores[k] = s
	}
}

// Fingerprint hashes every store in key order.
func (ms *MultiStore) Fingerprint() uint64 {
	h := xxhash.New()
	for _, k := range ms.keys {
		_, _ = h.WriteString(string(k))
		_, _ = h.Write([]byte{0})
		ms.stores[k].Fingerprint(h)
	}
	return h.Sum64()
}
