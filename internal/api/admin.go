package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/replace"
)

// adminAuth gates the maintainer-only Replace Engine route (spec.md §4.8)
// behind a shared secret, since replace bypasses the Job Engine's normal
// admission control entirely. An empty token disables the route rather
// than accepting every caller.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusNotFound, errorResponse{CustomCode: codederr.CodeInvalidParameter, Message: "admin routes are disabled"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{CustomCode: codederr.CodeInvalidParameter, Message: "invalid admin token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type replaceRequestBody struct {
	CreatorTxHash    *string               `json:"creatorTxHash"`
	CustomMethod     *replace.CustomMethod `json:"customMethod"`
	ForceCompilation bool                  `json:"forceCompilation"`
	JSONInput        json.RawMessage       `json:"stdJsonInput"`
	CompilerVersion  string                `json:"compilerVersion"`
	Target           string                `json:"contractIdentifier"`
	ForceRPCRequest  bool                  `json:"forceRpcRequest"`
}

// handleReplace implements the maintainer-only POST
// /admin/replace/{chainId}/{address} route over the Replace Engine.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	chainID, address := chi.URLParam(r, "chainId"), chi.URLParam(r, "address")

	var body replaceRequestBody
	// Every field is optional: a bare POST with no body means "repoint
	// using only stored evidence and no forced compilation/RPC".
	_ = decodeBody(r, &body)

	outcome, err := s.replaceEngine.Replace(r.Context(), replace.Request{
		ChainID:          chainID,
		Address:          address,
		CreatorTxHash:    body.CreatorTxHash,
		CustomMethod:     body.CustomMethod,
		ForceCompilation: body.ForceCompilation,
		JSONInput:        body.JSONInput,
		CompilerVersion:  body.CompilerVersion,
		Target:           body.Target,
		ForceRPCRequest:  body.ForceRPCRequest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
