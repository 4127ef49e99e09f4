// Package api serves read-only market data over REST and streams fills
// and book updates over WebSocket. Order flow itself enters through the
// instruction processor, not this server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/solstice-dex/solstice/pkg/core/book"
	"github.com/solstice-dex/solstice/pkg/core/state"
	"github.com/solstice-dex/solstice/pkg/storage"
	"github.com/solstice-dex/solstice/pkg/util"
)

const defaultTradeLimit = 100

type Server struct {
	store  *storage.PebbleStore
	router *mux.Router
	hub    *Hub
	clock  util.Clock
	log    *zap.Logger
	http   *http.Server
}

func NewServer(store *storage.PebbleStore, clock util.Clock, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		clock:  clock,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{address}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{address}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{address}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{address}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until the listener fails. Call Shutdown to stop.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("api server starting", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.Markets()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load markets", err.Error())
		return
	}

	response := make([]MarketInfo, 0, len(markets))
	for addr, m := range markets {
		response = append(response, marketInfo(addr, m))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	mkt, err := s.store.LoadMarket(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load market", err.Error())
		return
	}
	if mkt == nil {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	respondJSON(w, marketInfo(addr, mkt))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	snapshot, err := s.snapshotOrderbook(addr, queryInt(r, "depth", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load orderbook", err.Error())
		return
	}
	respondJSON(w, snapshot)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	trades, err := s.store.LoadRecentTrades(addr, queryInt(r, "limit", defaultTradeLimit))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load trades", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, tr := range trades {
		response[i] = TradeInfo{
			Market:    addr.Hex(),
			Price:     tr.Price,
			Size:      tr.Quantity,
			Side:      takerSide(tr.TakerIsBuy),
			Timestamp: tr.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, err := s.store.LoadOrder(addr, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load order", err.Error())
		return
	}
	if order == nil {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}

	respondJSON(w, OrderInfo{
		ID:        order.ID,
		Market:    order.Market.Hex(),
		Owner:     order.Owner.Hex(),
		Side:      order.Side.String(),
		Price:     order.LimitPrice,
		Size:      order.OriginalQty,
		Filled:    order.Filled(),
		Remaining: order.RemainingQty,
		CreatedAt: order.CreatedAt,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	led, err := s.store.LoadLedger()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load balances", err.Error())
		return
	}

	entries := led.OwnerEntries(addr)
	balances := make([]BalanceInfo, len(entries))
	for i, e := range entries {
		balances[i] = BalanceInfo{Mint: e.Mint.Hex(), Free: e.Free, Locked: e.Locked}
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Balances: balances})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// BroadcastTrade streams one executed trade to subscribed clients.
// Wired to the processor's trade sink.
func (s *Server) BroadcastTrade(addr common.Address, tr state.Trade) {
	market := addr.Hex()
	s.hub.BroadcastToChannel("trades:"+market, TradeUpdate{
		Type:      "trade",
		Market:    market,
		Price:     tr.Price,
		Size:      tr.Quantity,
		Side:      takerSide(tr.TakerIsBuy),
		Timestamp: tr.Timestamp,
	})
}

// BroadcastOrderbook streams a fresh book snapshot for a market.
func (s *Server) BroadcastOrderbook(addr common.Address) {
	snapshot, err := s.snapshotOrderbook(addr, 0)
	if err != nil {
		s.log.Warn("orderbook broadcast", zap.Error(err))
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+addr.Hex(), OrderbookUpdate{
		Type:      "orderbook",
		Market:    snapshot.Market,
		Bids:      snapshot.Bids,
		Asks:      snapshot.Asks,
		Timestamp: snapshot.Timestamp,
	})
}

func (s *Server) snapshotOrderbook(addr common.Address, depth int) (*OrderbookSnapshot, error) {
	orders, err := s.store.LoadOpenOrders(addr)
	if err != nil {
		return nil, err
	}
	bk := book.New()
	for _, o := range orders {
		if err := bk.Insert(o); err != nil {
			return nil, err
		}
	}
	return &OrderbookSnapshot{
		Market:    addr.Hex(),
		Bids:      toLevels(bk.Levels(state.Buy, depth)),
		Asks:      toLevels(bk.Levels(state.Sell, depth)),
		Timestamp: s.clock.Now().UnixMilli(),
	}, nil
}

func marketInfo(addr common.Address, m *state.Market) MarketInfo {
	return MarketInfo{
		Address:          addr.Hex(),
		Authority:        m.Authority.Hex(),
		BaseMint:         m.BaseMint.Hex(),
		QuoteMint:        m.QuoteMint.Hex(),
		MinBaseOrderSize: m.MinBaseOrderSize,
		TickSize:         m.TickSize,
		FeeRateBps:       m.FeeRateBps,
		NumBids:          m.NumBids,
		NumAsks:          m.NumAsks,
	}
}

func toLevels(levels []book.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty}
	}
	return out
}

func takerSide(isBuy bool) string {
	if isBuy {
		return state.Buy.String()
	}
	return state.Sell.String()
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}
