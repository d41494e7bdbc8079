package signatures

import (
	"context"
	"sort"

	"github.com/chainverify/verifyd/internal/store"
)

// Index answers selector lookups against the canonical store.
type Index struct {
	store *store.Store
}

// NewIndex wraps an already-open store for selector lookups.
func NewIndex(s *store.Store) *Index {
	return &Index{store: s}
}

// ByKeccak returns the single signature addressed by its full 32-byte hash.
func (i *Index) ByKeccak(ctx context.Context, keccakHex string) (*store.Signature, error) {
	return i.store.GetSignatureByKeccak(ctx, keccakHex)
}

// ByFourByte returns every signature sharing a 4-byte prefix. Prefix
// collisions between unrelated selectors are common and are returned as a
// list, ordered by JoinCount descending so the most-referenced (most
// likely canonical) variant sorts first.
//
// When filterCanonical is true, variants that are not at least tied for
// the highest JoinCount are dropped from the result, leaving only the
// selector(s) actually exercised by a verified compilation as often as
// the most common one.
func (i *Index) ByFourByte(ctx context.Context, fourByteHex string, filterCanonical bool) ([]store.Signature, error) {
	sigs, err := i.store.GetSignaturesByFourByte(ctx, fourByteHex)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sigs, func(a, b int) bool { return sigs[a].JoinCount > sigs[b].JoinCount })

	if !filterCanonical || len(sigs) == 0 {
		return sigs, nil
	}

	top := sigs[0].JoinCount
	var canonical []store.Signature
	for _, s := range sigs {
		if s.JoinCount == top {
			canonical = append(canonical, s)
		}
	}
	return canonical, nil
}
