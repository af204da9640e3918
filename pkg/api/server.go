// Package api exposes the node over HTTP: read-only queries against the
// application, transaction submission into the mempool, and a WebSocket
// feed of committed events.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/pkg/abci"
	"github.com/optimic-protocol/optimic/pkg/app/optimic"
)

const maxTxBody = 64 << 10

// Server handles REST queries, tx submission, and WebSocket connections.
type Server struct {
	app    *optimic.App
	mp     *abci.Mempool
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires the HTTP surface over the application and mempool.
// The returned server's Hub is registered as the app's event sink by
// the caller.
func NewServer(app *optimic.App, mp *abci.Mempool, log *zap.SugaredLogger) *Server {
	s := &Server{
		app:    app,
		mp:     mp,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for event-sink wiring.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/params", s.handleQueryPath("params")).Methods("GET")
	api.HandleFunc("/markets", s.handleQueryPath("markets")).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleQueryVar("market", "id")).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleQueryVar("orderbook", "id")).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleQueryVar("account", "address")).Methods("GET")
	api.HandleFunc("/accounts/{address}/portfolio", s.handleQueryVar("portfolio", "address")).Methods("GET")
	api.HandleFunc("/accounts/{address}/collateral", s.handleQueryVar("collateral", "address")).Methods("GET")

	api.HandleFunc("/orders/{id}", s.handleQueryVar("order", "id")).Methods("GET")
	api.HandleFunc("/trades/{id}", s.handleQueryVar("trade", "id")).Methods("GET")

	api.HandleFunc("/options/{underlying}", s.handleQueryVar("options", "underlying")).Methods("GET")
	api.HandleFunc("/options/contract/{id}", s.handleQueryVar("option", "id")).Methods("GET")
	api.HandleFunc("/options/contract/{id}/quote", s.handleQuote).Methods("POST")

	api.HandleFunc("/txs", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/chain/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api_listening", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) query(w http.ResponseWriter, path string, data []byte) {
	resp := s.app.Query(abci.RequestQuery{Path: path, Data: data})
	if resp.Code != abci.CodeOK {
		status := http.StatusBadRequest
		if resp.Code == abci.CodeNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, ErrorResponse{Code: resp.Code, Error: resp.Log})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Value)
}

func (s *Server) handleQueryPath(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.query(w, path, nil)
	}
}

func (s *Server) handleQueryVar(prefix, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.query(w, prefix+"/"+mux.Vars(r)[key], nil)
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: abci.CodeInvalid, Error: err.Error()})
		return
	}
	s.query(w, "option_quote/"+mux.Vars(r)["id"], body)
}

// handleSubmitTx admits one raw transaction: CheckTx gates entry, then
// the tx waits in the mempool for the next block.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: abci.CodeInvalid, Error: err.Error()})
		return
	}

	check := s.app.CheckTx(abci.RequestCheckTx{Tx: raw})
	if check.Code != abci.CodeOK {
		writeJSON(w, http.StatusBadRequest, SubmitTxResponse{Code: check.Code, Log: check.Log})
		return
	}
	if err := s.mp.Push(raw); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, SubmitTxResponse{Code: abci.CodeInternal, Log: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitTxResponse{Code: abci.CodeOK, Log: "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := s.app.Info()
	writeJSON(w, http.StatusOK, StatusResponse{
		Height:      info.LastBlockHeight,
		AppHash:     hexBytes(info.LastBlockAppHash),
		MempoolSize: s.mp.Size(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
