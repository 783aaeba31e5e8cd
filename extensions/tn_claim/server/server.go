// Package server exposes the claim gate over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	tnclaim "github.com/trufnetwork/claimgate/extensions/tn_claim"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/issuance"
)

const maxBodyBytes = 64 << 10

// Server serves the claim API.
type Server struct {
	guard      *tnclaim.Guard
	collection *issuance.Collection
	logger     *zap.Logger

	handler    http.Handler
	httpServer *http.Server
}

// New builds the router and the underlying http.Server listening on addr.
func New(addr string, guard *tnclaim.Guard, collection *issuance.Collection, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		guard:      guard,
		collection: collection,
		logger:     logger.Named("http"),
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "no such route")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported on this route")
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/claims", s.handleClaim).Methods(http.MethodPost)
	v1.HandleFunc("/claims/{address}", s.handleClaimStatus).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{id:[0-9]+}", s.handleToken).Methods(http.MethodGet)
	v1.HandleFunc("/authority", s.handleAuthority).Methods(http.MethodGet)

	// Wrapped outside the router so unmatched routes get a request ID and an access line too.
	s.handler = otelhttp.NewHandler(requestID(s.accessLog(router)), "claimgate")
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type claimRequest struct {
	Requester string `json:"requester"`
	Signature string `json:"signature"`
}

type tokenResponse struct {
	TokenID  uint64 `json:"token_id"`
	Owner    string `json:"owner"`
	TokenURI string `json:"token_uri"`
}

type claimStatusResponse struct {
	Requester string `json:"requester"`
	Claimed   bool   `json:"claimed"`
}

type authorityResponse struct {
	Authority string `json:"authority"`
	Contract  string `json:"contract"`
	ChainID   string `json:"chain_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	requester, err := tnclaim.ParseAddress(req.Requester)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "requester: "+err.Error())
		return
	}
	signature, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "signature must be 0x-prefixed hex")
		return
	}

	token, err := s.collection.Mint(r.Context(), requester, signature)
	if err != nil {
		s.writeMintError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenResponse(token))
}

func (s *Server) writeMintError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, issuance.ErrInvalidReceiver):
		writeError(w, r, http.StatusBadRequest, "invalid_receiver", "requester cannot be the zero address")
	case errors.Is(err, tnclaim.ErrInvalidSignature):
		writeError(w, r, http.StatusForbidden, "invalid_signature", "signature was not issued by the trusted authority for this requester")
	case errors.Is(err, tnclaim.ErrAlreadyClaimed):
		writeError(w, r, http.StatusConflict, "already_claimed", "requester has already claimed")
	case errors.Is(err, tnclaim.ErrNetworkUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "network_unavailable", "network identifier is unavailable, retry later")
	default:
		s.logger.Error("claim failed", zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	requester, err := tnclaim.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	claimed, err := s.collection.HasMinted(r.Context(), requester)
	if err != nil {
		s.logger.Error("claim lookup failed", zap.String("requester", requester.Hex()), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, claimStatusResponse{Requester: requester.Hex(), Claimed: claimed})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "token id out of range")
		return
	}
	token, err := s.collection.Token(r.Context(), id)
	if err != nil {
		if errors.Is(err, issuance.ErrTokenNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.logger.Error("token lookup failed", zap.Uint64("token_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(token))
}

func (s *Server) handleAuthority(w http.ResponseWriter, r *http.Request) {
	chainID, err := s.guard.ChainID(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "network_unavailable", "network identifier is unavailable, retry later")
		return
	}
	writeJSON(w, http.StatusOK, authorityResponse{
		Authority: s.guard.Authority().Hex(),
		Contract:  s.guard.Contract().Hex(),
		ChainID:   chainID.String(),
	})
}

func toTokenResponse(token issuance.Token) tokenResponse {
	return tokenResponse{TokenID: token.ID, Owner: token.Owner.Hex(), TokenURI: token.URI}
}
