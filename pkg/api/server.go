package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
	"github.com/uhyunpark/zklite/pkg/app/engine"
	"github.com/uhyunpark/zklite/pkg/app/sequencer"
	"github.com/uhyunpark/zklite/pkg/storage"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Journal serves the persisted event history.
type Journal interface {
	LoadEvents(from uint64, limit int) ([]storage.JournalEntry, error)
	JournalDigest() [32]byte
}

// Faucet backs the dev-only mint and approve endpoints.
type Faucet interface {
	Mint(asset, account common.Address, amount uint256.Int) error
	Approve(asset, owner, spender common.Address, amount uint256.Int) error
}

type Config struct {
	Engine    *engine.Engine
	Sequencer *sequencer.Sequencer
	Hub       *Hub
	Journal   Journal // optional
	Faucet    Faucet  // optional; enables /api/v1/dev
	// Relayer is credited the network fee of orders posted here.
	Relayer     common.Address
	CORSOrigins []string
	Log         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *engine.Engine
	seq     *sequencer.Sequencer
	hub     *Hub
	journal Journal
	faucet  Faucet
	relayer common.Address
	origins []string
	router  *mux.Router
	log     *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Sequencer == nil {
		return nil, fmt.Errorf("api server requires an engine and a sequencer")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		engine:  cfg.Engine,
		seq:     cfg.Sequencer,
		hub:     hub,
		journal: cfg.Journal,
		faucet:  cfg.Faucet,
		relayer: cfg.Relayer,
		origins: origins,
		router:  mux.NewRouter(),
		log:     log,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/admin", s.handleGetAdmin).Methods("GET")

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}", s.handleGetPair).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleGetActiveOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrders).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/spending/{asset}", s.handleGetSpending).Methods("GET")

	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	if s.faucet != nil {
		api.HandleFunc("/dev/mint", s.handleDevMint).Methods("POST")
		api.HandleFunc("/dev/approve", s.handleDevApprove).Methods("POST")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(s.router)
}

// Hub is the websocket fan-out; register it as an engine event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// requestID tags every request with an X-Request-ID, reusing the
// caller's if present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.log.Debugw("http_request", "request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":     "ok",
		"queue":      s.seq.Len(),
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleGetAdmin(w http.ResponseWriter, r *http.Request) {
	domain := s.engine.Verifier().Signer().Domain()
	chainID := "0"
	if domain.ChainID != nil {
		chainID = domain.ChainID.String()
	}
	respondJSON(w, AdminInfo{
		Admin:             s.engine.Admin().Hex(),
		Engine:            s.engine.Address().Hex(),
		Relayer:           s.relayer.Hex(),
		DomainName:        domain.Name,
		DomainVersion:     domain.Version,
		ChainID:           chainID,
		VerifyingContract: domain.VerifyingContract.Hex(),
	})
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.engine.ListPairs()
	out := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		out[i] = pairInfo(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 16)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair id", err.Error())
		return
	}
	p, ok := s.engine.GetPair(uint16(id))
	if !ok {
		respondError(w, http.StatusNotFound, "pair not found", engine.ErrInvalidPair.Error())
		return
	}
	respondJSON(w, pairInfo(p))
}

func (s *Server) handleGetActiveOrders(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.ActiveOrderIDs()
	if ids == nil {
		ids = []uint64{}
	}
	respondJSON(w, ids)
}

func (s *Server) orderInfo(id uint64) OrderInfo {
	slot := s.engine.GetOrder(id)
	var decimals uint8
	if p, ok := s.engine.GetPair(slot.Order().PairID); ok {
		decimals = p.PriceDecimals
	}
	return orderInfo(slot, decimals)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	respondJSON(w, s.orderInfo(id))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(mux.Vars(r)["address"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	ids := s.engine.ActiveOrderIDsOf(owner)
	out := make([]OrderInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.orderInfo(id))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetSpending(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, ok := parseAddress(vars["address"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	asset, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", "")
		return
	}
	amount := s.engine.SpendingAmount(owner, asset)
	respondJSON(w, SpendingInfo{Owner: owner.Hex(), Asset: asset.Hex(), Amount: amount.Dec()})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "event journal not available", "")
		return
	}
	q := r.URL.Query()
	from := uint64(1)
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return
		}
		from = n
	}
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.journal.LoadEvents(from, limit)
	if err != nil {
		s.log.Errorw("journal_read_failed", "from", from, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to read events", err.Error())
		return
	}
	if entries == nil {
		entries = []storage.JournalEntry{}
	}
	head := s.journal.JournalDigest()
	respondJSON(w, EventsResponse{Events: entries, Head: common.Hash(head).Hex()})
}

// ==============================
// Signed Request Handlers
// ==============================

func (s *Server) readSigned(w http.ResponseWriter, r *http.Request, want transaction.TxType) (*transaction.SignedTransaction, common.Address, []byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return nil, common.Address{}, nil, false
	}
	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return nil, common.Address{}, nil, false
	}
	if tx.Type != want {
		respondError(w, http.StatusBadRequest, "invalid transaction type", fmt.Sprintf("expected type=%s", want))
		return nil, common.Address{}, nil, false
	}
	owner, err := tx.OwnerAddress()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return nil, common.Address{}, nil, false
	}
	sig, err := transaction.DecodeSignature(tx.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return nil, common.Address{}, nil, false
	}
	return tx, owner, sig, true
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	tx, owner, sig, ok := s.readSigned(w, r, transaction.TxTypeOrder)
	if !ok {
		return
	}
	fields, err := tx.Order.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	var res engine.SubmitResult
	err = s.seq.Do(r.Context(), sequencer.KindOrder, func(ctx context.Context) error {
		var err error
		res, err = s.engine.SubmitOrderOnBehalfOf(ctx, s.relayer, owner, fields, sig)
		return err
	})
	if err != nil {
		s.respondEngineError(w, "order rejected", err)
		return
	}

	var decimals uint8
	if p, ok := s.engine.GetPair(fields.PairID); ok {
		decimals = p.PriceDecimals
	}
	respondJSON(w, SubmitOrderResponse{
		OrderID: res.OrderID,
		Order:   orderInfo(res.Order, decimals),
		Events:  nonNilRecords(res.Events),
	})
}

func (s *Server) handleCancelOrders(w http.ResponseWriter, r *http.Request) {
	tx, owner, sig, ok := s.readSigned(w, r, transaction.TxTypeCancel)
	if !ok {
		return
	}
	fields, err := tx.Cancel.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cancel", err.Error())
		return
	}

	var records []events.Record
	err = s.seq.Do(r.Context(), sequencer.KindCancel, func(ctx context.Context) error {
		var err error
		records, err = s.engine.CancelOrdersSigned(ctx, owner, fields, sig)
		return err
	})
	if err != nil {
		s.respondEngineError(w, "cancel rejected", err)
		return
	}
	respondJSON(w, CancelOrdersResponse{Events: nonNilRecords(records)})
}

// ==============================
// Dev Faucet Handlers
// ==============================

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleDevMint(w http.ResponseWriter, r *http.Request) {
	var req DevMintRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	asset, ok1 := parseAddress(req.Asset)
	account, ok2 := parseAddress(req.Account)
	amount, err := uint256.FromDecimal(req.Amount)
	if !ok1 || !ok2 || err != nil {
		respondError(w, http.StatusBadRequest, "invalid mint request", "asset, account and decimal amount required")
		return
	}
	err = s.seq.Do(r.Context(), sequencer.KindOther, func(context.Context) error {
		return s.faucet.Mint(asset, account, *amount)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "mint failed", err.Error())
		return
	}
	s.log.Infow("dev_mint", "asset", asset.Hex(), "account", account.Hex(), "amount", amount.Dec())
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDevApprove(w http.ResponseWriter, r *http.Request) {
	var req DevApproveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	asset, ok1 := parseAddress(req.Asset)
	owner, ok2 := parseAddress(req.Owner)
	amount, err := uint256.FromDecimal(req.Amount)
	if !ok1 || !ok2 || err != nil {
		respondError(w, http.StatusBadRequest, "invalid approve request", "asset, owner and decimal amount required")
		return
	}
	spender := s.engine.Address()
	err = s.seq.Do(r.Context(), sequencer.KindOther, func(context.Context) error {
		return s.faucet.Approve(asset, owner, spender, *amount)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "approve failed", err.Error())
		return
	}
	s.log.Infow("dev_approve", "asset", asset.Hex(), "owner", owner.Hex(), "amount", amount.Dec())
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func nonNilRecords(r []events.Record) []events.Record {
	if r == nil {
		return []events.Record{}
	}
	return r
}

func (s *Server) respondEngineError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch engine.KindOf(err) {
	case engine.KindInput:
		status = http.StatusBadRequest
	case engine.KindAuth:
		status = http.StatusForbidden
	case engine.KindNotFilled:
		status = http.StatusConflict
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request_failed", "msg", msg, "err", err)
	}
	respondError(w, status, msg, err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
