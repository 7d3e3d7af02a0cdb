package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/pkg/bridge"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/ledger"
	"github.com/mangekyou-labs/darkpool/pkg/oracle"
)

// Server exposes the pool over REST plus a WebSocket event stream.
// Order flow goes to the bridge; reads come straight from the ledger.
type Server struct {
	bridge *bridge.Bridge
	ledger *ledger.Ledger
	feed   oracle.Feed
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(b *bridge.Bridge, led *ledger.Ledger, feed oracle.Feed, log *zap.Logger) *Server {
	s := &Server{
		bridge: b,
		ledger: led,
		feed:   feed,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()

	// Settled trades and order lifecycle events fan out to subscribers.
	led.OnEvent = s.hub.BroadcastLedgerEvent
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	api.HandleFunc("/accounts/{owner}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/accounts/{owner}/balances/{custody}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/custody/{custody}/volume", s.handleGetCustodyVolume).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st := s.ledger.Stats()
	respondJSON(w, StatsResponse{
		TotalOrders:      st.TotalOrders,
		TotalMatches:     st.TotalMatches,
		TotalSettlements: st.TotalSettlements,
		TotalVolume:      st.TotalVolume,
		TotalFeesUSD:     st.TotalFeesUSD,
		LastOrderTime:    st.LastOrderTime,
		LastMatchTime:    st.LastMatchTime,
		PendingOrders:    s.bridge.PendingOrders(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	respondJSON(w, s.ledger.RecentEvents(limit))
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := darkpool.IdentityFromHex(mux.Vars(r)["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	positions := s.ledger.OwnerPositions(owner)
	out := make([]PositionInfo, 0, len(positions))
	for _, pos := range positions {
		if pos.IsEmpty() {
			continue
		}

		markPrice := pos.Price
		if p, err := s.feed.Price(pos.Custody); err == nil {
			markPrice = p.Price
		}

		out = append(out, PositionInfo{
			Pool:              pos.Pool.Hex(),
			Custody:           pos.Custody.Hex(),
			CollateralCustody: pos.CollateralCustody.Hex(),
			Side:              pos.Side.String(),
			SizeUSD:           pos.SizeUSD,
			EntryPrice:        pos.Price,
			MarkPrice:         markPrice,
			CollateralAmount:  pos.CollateralAmount,
			CollateralUSD:     pos.CollateralUSD,
			UnrealizedPnL:     pos.UnrealizedPnL(markPrice),
			LiquidationPrice:  pos.LiquidationPrice(500),
			OpenTime:          pos.OpenTime,
			UpdateTime:        pos.UpdateTime,
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, err := darkpool.IdentityFromHex(vars["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	custody, err := darkpool.IdentityFromHex(vars["custody"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid custody", err.Error())
		return
	}

	respondJSON(w, BalanceResponse{
		Holder:  owner.Hex(),
		Custody: custody.Hex(),
		Balance: s.ledger.Accounts().Balance(ledger.FundingAccount(owner, custody)),
	})
}

func (s *Server) handleGetCustodyVolume(w http.ResponseWriter, r *http.Request) {
	custody, err := darkpool.IdentityFromHex(mux.Vars(r)["custody"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid custody", err.Error())
		return
	}
	respondJSON(w, map[string]interface{}{
		"custody": custody.Hex(),
		"volume":  s.ledger.CustodyVolume(custody),
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := s.bridge.SubmitOrder(r.Context(), req.Order); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "order rejected", err.Error())
		return
	}

	s.log.Info("order submitted",
		zap.String("owner", req.Order.Owner.Hex()),
		zap.Uint64("nonce", req.Order.Nonce),
	)
	respondJSON(w, SubmitOrderResponse{Status: "accepted", Pending: s.bridge.PendingOrders()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, err := darkpool.IdentityFromHex(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	if err := s.bridge.CancelOrder(owner, req.Nonce); err != nil {
		respondError(w, http.StatusNotFound, "cancel failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
