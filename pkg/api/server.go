package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/matching"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/app/dex"
	"github.com/uhyunpark/tokendex/pkg/custody"
)

const maxBodyBytes = 1 << 20

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	router  *mux.Router
	hub     *Hub
	origins []string
	logger  *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins sets the browser origins allowed to call the API
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a new API server and subscribes it to app's trades
func NewServer(app *dex.App, opts ...Option) *Server {
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		origins: []string{"*"},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger.Named("ws"))

	s.setupRoutes()
	app.OnTrade(s.broadcastTrade)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/books/{ticker}/{side}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/markets/{ticker}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{ticker}", s.handleGetBalance).Methods("GET")

	api.HandleFunc("/state/hash", s.handleGetStateHash).Methods("GET")

	// Signed transactions: deposit, withdraw, order, add_token
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api_server_starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	quote := s.app.Registry().Quote()
	assets := s.app.Assets()

	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = toAssetInfo(a, quote)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ticker, ok := parseTickerVar(w, vars["ticker"])
	if !ok {
		return
	}
	side, err := orderbook.ParseSide(vars["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	orders, err := s.app.Orders(ticker, side)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, BookSnapshot{
		Ticker: ticker.String(),
		Side:   side.String(),
		Orders: toOrderInfos(orders),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker, ok := parseTickerVar(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}
	if !s.app.Registry().Exists(ticker) {
		s.respondAppError(w, asset.ErrUnknownAsset)
		return
	}
	respondJSON(w, toTradeInfos(s.app.RecentTrades(ticker)))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddressVar(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	balances, err := s.app.Balances(addr)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, AccountBalances{
		Address:  addr.Hex(),
		Nonce:    s.app.Nonce(addr),
		Balances: toBalanceInfos(balances),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddressVar(w, vars["address"])
	if !ok {
		return
	}
	ticker, ok := parseTickerVar(w, vars["ticker"])
	if !ok {
		return
	}

	bal, err := s.app.Balance(addr, ticker)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{Ticker: ticker.String(), Amount: bal.Dec()})
}

func (s *Server) handleGetStateHash(w http.ResponseWriter, r *http.Request) {
	h, err := s.app.StateHash()
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, StateHashResponse{Hash: h.Hex()})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var tx transaction.SignedTransaction
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&tx); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON transaction", err.Error())
		return
	}

	receipt, err := s.app.ApplyTx(r.Context(), &tx)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	s.logger.Info("tx_applied",
		zap.String("type", string(receipt.Type)),
		zap.Stringer("sender", receipt.Sender),
		zap.Uint64("nonce", receipt.Nonce))

	if receipt.Type == transaction.TxTypeOrder {
		s.broadcastBook(receipt.Ticker)
	}
	respondJSON(w, toTxResponse(receipt))
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, ok := parseAddressVar(w, req.Address)
	if !ok {
		return
	}
	ticker, ok := parseTickerVar(w, req.Ticker)
	if !ok {
		return
	}

	wallet, err := s.app.Faucet(addr, ticker)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, FaucetResponse{Address: addr.Hex(), Ticker: ticker.String(), Wallet: wallet.Dec()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

func (s *Server) broadcastTrade(t matching.Trade) {
	s.hub.Broadcast(tradesChannel(t.Ticker), TradeUpdate{
		Type:  "trade",
		Trade: toTradeInfo(t),
	})
}

// broadcastBook pushes both sides of ticker's book to its book channel
func (s *Server) broadcastBook(ticker asset.Ticker) {
	engine := s.app.Engine()
	s.hub.Broadcast(bookChannel(ticker), BookUpdate{
		Type:      "book",
		Ticker:    ticker.String(),
		Buys:      toOrderInfos(engine.Orders(ticker, orderbook.Buy)),
		Sells:     toOrderInfos(engine.Orders(ticker, orderbook.Sell)),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrMalformed),
		errors.Is(err, matching.ErrInvalidSide),
		errors.Is(err, matching.ErrZeroAmount),
		errors.Is(err, matching.ErrCannotTradeQuoteAsset):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, asset.ErrUnauthorized),
		errors.Is(err, dex.ErrFaucetDisabled):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, asset.ErrUnknownAsset):
		return http.StatusNotFound, "unknown asset"
	case errors.Is(err, dex.ErrStaleNonce),
		errors.Is(err, asset.ErrAlreadyRegistered):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, matching.ErrInsufficientTokenBalance),
		errors.Is(err, matching.ErrInsufficientQuoteBalance),
		errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, custody.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient balance"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status, title := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api_request_failed", zap.Error(err))
	}
	respondError(w, status, title, err.Error())
}

func parseAddressVar(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseTickerVar(w http.ResponseWriter, s string) (asset.Ticker, bool) {
	t, err := asset.ParseTicker(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticker", err.Error())
		return asset.Ticker{}, false
	}
	return t, true
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
