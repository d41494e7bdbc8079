// Package signatures extracts function, event, and error selectors from a
// compiled contract's ABI and maintains the deduplicated, keccak-addressed
// selector index described for the canonical store's signature table.
package signatures

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainverify/verifyd/internal/store"
)

// Fragment is one extracted ABI selector awaiting storage.
type Fragment struct {
	Kind      store.SignatureKind
	Text      string
	KeccakHex string
}

// Extract parses an ABI JSON document and returns every function, event,
// and error selector it declares. Constructors, fallback, and receive have
// no selector and abi.JSON already excludes them from the Methods/Errors
// maps, so no special-casing is needed beyond iterating those maps.
//
// An empty ABI yields zero fragments rather than an error, so verification
// still succeeds when a compiler produced no ABI; an ABI that fails to
// parse returns the parse error.
func Extract(abiJSON string) ([]Fragment, error) {
	if strings.TrimSpace(abiJSON) == "" {
		return nil, nil
	}

	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}

	fragments := make([]Fragment, 0, len(parsed.Methods)+len(parsed.Events)+len(parsed.Errors))
	for _, m := range parsed.Methods {
		fragments = append(fragments, fragmentFor(store.SignatureFunction, m.Sig))
	}
	for _, e := range parsed.Events {
		fragments = append(fragments, fragmentFor(store.SignatureEvent, e.Sig))
	}
	for _, e := range parsed.Errors {
		fragments = append(fragments, fragmentFor(store.SignatureError, e.Sig))
	}
	return fragments, nil
}

func fragmentFor(kind store.SignatureKind, sig string) Fragment {
	hash := crypto.Keccak256([]byte(sig))
	return Fragment{Kind: kind, Text: sig, KeccakHex: hex.EncodeToString(hash)}
}

// StoreAll joins every extracted fragment to compilationID within an
// already-open transaction. Callers run this as the final step of the
// canonical-store write, after the compiled contract row exists.
func StoreAll(txn *store.Txn, compilationID string, fragments []Fragment) error {
	for _, f := range fragments {
		if err := txn.UpsertSignature(compilationID, f.Kind, f.KeccakHex, f.Text); err != nil {
			return err
		}
	}
	return nil
}
