package term

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agentmux/agentmux/internal/logging"
)

// Server exposes the manager over HTTP for the orchestrator and the
// admin commands.
type Server struct {
	mgr  *Manager
	mux  *http.ServeMux
	addr string
	log  *logging.Logger
}

func NewServer(mgr *Manager, addr string) *Server {
	s := &Server{
		mgr:  mgr,
		mux:  http.NewServeMux(),
		addr: addr,
		log:  logging.New("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /sessions/{name}/terminals", s.handleCreateTerminal)
	s.mux.HandleFunc("GET /terminals", s.handleListTerminals)
	s.mux.HandleFunc("GET /terminals/{id}", s.handleGetTerminal)
	s.mux.HandleFunc("POST /terminals/{id}/input", s.handleInput)
	s.mux.HandleFunc("GET /terminals/{id}/output", s.handleOutput)
	s.mux.HandleFunc("POST /terminals/{id}/exit", s.handleExit)
	s.mux.HandleFunc("POST /terminals/prune", s.handlePrune)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func createRequest(r *http.Request) CreateRequest {
	q := r.URL.Query()
	return CreateRequest{
		Provider: q.Get("provider"),
		Profile:  q.Get("agent_profile"),
		WD:       q.Get("working_directory"),
		Session:  q.Get("session_name"),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req := createRequest(r)
	t, err := s.mgr.CreateSession(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (s *Server) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	req := createRequest(r)
	t, err := s.mgr.CreateTerminal(r.Context(), r.PathValue("name"), req)
	if err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	terminals, err := s.mgr.List(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	if terminals == nil {
		terminals = []*Terminal{}
	}
	json.NewEncoder(w).Encode(terminals)
}

func (s *Server) handleGetTerminal(w http.ResponseWriter, r *http.Request) {
	t, err := s.mgr.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(t)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := s.mgr.SendInput(r.Context(), r.PathValue("id"), message); err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	mode := OutputMode(r.URL.Query().Get("mode"))
	switch mode {
	case "", ModeFull, ModeLast, ModeTail:
	default:
		http.Error(w, "mode must be full, last or tail", http.StatusBadRequest)
		return
	}

	text, err := s.mgr.Output(r.Context(), r.PathValue("id"), mode)
	if err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"output": text})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Exit(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	pruned, err := s.mgr.Prune(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusInternalServerError)
		return
	}
	if pruned == nil {
		pruned = []string{}
	}
	json.NewEncoder(w).Encode(map[string][]string{"pruned": pruned})
}

// fail writes the error with its HTTP status, downgrading to 404 for
// unknown terminal ids.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, status int) {
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	s.log.Warn("request_failed", map[string]any{
		"method": r.Method, "path": r.URL.Path, "status": status, "error": err.Error(),
	})
	http.Error(w, err.Error(), status)
}

// JSON sets the response content type for every route.
func JSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	return JSON(s.mux)
}

// Serve runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", map[string]any{"addr": s.addr})
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
