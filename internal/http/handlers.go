package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/notify"
	"github.com/example/ambulance-dispatch/internal/presence"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// driverHeader carries the authenticated driver identity. The auth
// collaborator in front of this service sets it; we trust it as-is.
const driverHeader = "X-Driver-ID"

type Server struct {
	Dispatch *dispatch.Service
	Presence *presence.Tracker
	Store    storage.Store
	WSReg    *notify.Registry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the service graph from config: postgres when PG_DSN is
// set (memory store otherwise), redis presence mirror when REDIS_ADDR is
// set, kafka event log when brokers are set, push gateway fallback when
// PUSH_ENDPOINT is set.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var mirror *presence.Mirror
	if cfg.RedisAddr != "" {
		mirror = presence.NewMirror(cfg.RedisAddr, cfg.RedisPassword)
	}

	var producer *ingest.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.DispatchTopic, cfg.StatusTopic)
	}

	wsreg := notify.NewRegistry()
	var notifier dispatch.Notifier = wsreg
	if cfg.PushEndpoint != "" {
		notifier = notify.NewPushNotifier(wsreg, cfg.PushEndpoint, cfg.PushKey)
	}

	var statusEvents presence.StatusPublisher
	var eventLog dispatch.EventLog
	if producer != nil {
		statusEvents = producer
		eventLog = producer
	}

	tracker := presence.NewTracker(store, mirror, wsreg, statusEvents, logger)
	svc := dispatch.NewService(store, tracker, notifier, eventLog, logger, cfg.ExpiryWindow)

	s := &Server{
		Dispatch: svc,
		Presence: tracker,
		Store:    store,
		WSReg:    wsreg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/me/status", s.handleSetStatus).Methods("PATCH")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in dispatch.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, notified, err := s.Dispatch.CreateRequest(r.Context(), in)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": req, "drivers_notified": notified})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["request_id"]
	req, err := s.Store.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get(driverHeader)
	if driverID == "" {
		http.Error(w, "missing driver identity", http.StatusUnauthorized)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action, err := dispatch.ParseAction(body.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["request_id"]
	err = s.Dispatch.Respond(r.Context(), id, driverID, action)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrAlreadyClaimed):
		http.Error(w, "request already claimed", http.StatusConflict)
	case errors.Is(err, dispatch.ErrNotEligible):
		http.Error(w, "driver not eligible", http.StatusForbidden)
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
	case action == dispatch.ActionDecline:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"request_id": id, "status": string(models.StatusClaimed)})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["request_id"]
	err := s.Dispatch.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrAlreadyClaimed):
		http.Error(w, "request already claimed", http.StatusConflict)
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"request_id": id, "status": string(models.StatusCancelled)})
	}
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.ID == "" || d.City == "" {
		http.Error(w, "id and city are required", http.StatusBadRequest)
		return
	}
	if err := s.Store.UpsertDriver(r.Context(), &d); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get(driverHeader)
	if driverID == "" {
		http.Error(w, "missing driver identity", http.StatusUnauthorized)
		return
	}
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Presence.SetStatus(r.Context(), driverID, body.Online)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "driver not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	// Reap the session when the peer goes away. This only drops the live
	// channel; the persisted online flag is untouched.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(id)
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
