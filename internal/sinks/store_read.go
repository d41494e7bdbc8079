package sinks

import (
	"context"

	"github.com/chainverify/verifyd/internal/store"
)

// StoreReadSink implements ReadSink directly over the canonical pebble
// store, the default read destination (spec.md §4.3: "Exactly one read
// sink is active per service"). Other ReadSink implementations (e.g. a
// read replica) can be substituted without touching fanout.Policy, which
// only depends on the interface.
type StoreReadSink struct {
	store *store.Store
}

var _ ReadSink = (*StoreReadSink)(nil)

// NewStoreReadSink wraps an already-open store as a ReadSink.
func NewStoreReadSink(s *store.Store) *StoreReadSink {
	return &StoreReadSink{store: s}
}

// GetByChainAndAddress implements ReadSink.
func (r *StoreReadSink) GetByChainAndAddress(ctx context.Context, chainID, address string) (*store.SourcifyMatch, error) {
	return r.store.GetSourcifyMatch(ctx, chainID, address, false)
}

// GetFiles implements ReadSink, walking deployment -> sourcify match ->
// verified contract -> compiled contract -> per-path source content.
func (r *StoreReadSink) GetFiles(ctx context.Context, chainID, address string) (map[string][]byte, error) {
	match, err := r.store.GetSourcifyMatch(ctx, chainID, address, false)
	if err != nil {
		return nil, err
	}
	verified, err := r.store.GetVerifiedContract(ctx, match.VerifiedContractID)
	if err != nil {
		return nil, err
	}
	compiled, err := r.store.GetCompiledContract(ctx, verified.CompilationID)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, len(compiled.Sources))
	for path, sha := range compiled.Sources {
		content, err := r.store.GetSource(ctx, sha)
		if err != nil {
			return nil, err
		}
		files[path] = []byte(content)
	}
	return files, nil
}
