package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lectern/internal/session"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Sessions is the slice of the session lifecycle the HTTP layer drives.
type Sessions interface {
	CreateSession(ctx context.Context) (*types.Session, error)
	Info(sessionID string) (*session.Info, error)
	CloseSession(ctx context.Context, sessionID string) error
	Stats() map[string]int
}

// Store is the read side of persistence the HTTP layer needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListQuestions(ctx context.Context, sessionID string) ([]*types.Question, error)
	GetQuestion(ctx context.Context, sessionID, questionID string) (*types.Question, error)
	CountAnswers(ctx context.Context, questionID string) (total, correct int, err error)
	HealthCheck(ctx context.Context) error
}

// ConnectionStats reports live connection counts.
type ConnectionStats interface {
	Stats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure interface between external clients and internal components
// No business logic here, only HTTP handling and JSON serialization
type Server struct {
	sessions    Sessions
	store       Store
	connections ConnectionStats
	websocket   http.Handler
	router      chi.Router
	startedAt   time.Time
}

// NewServer wires routes. ws serves /ws/{role}/{sessionID}.
func NewServer(sessions Sessions, store Store, connections ConnectionStats, ws http.Handler) *Server {
	s := &Server{
		sessions:    sessions,
		store:       store,
		connections: connections,
		websocket:   ws,
		router:      chi.NewRouter(),
		startedAt:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	if s.websocket != nil {
		r.Get("/ws/{role}/{sessionID}", s.websocket.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.jsonMiddleware)

		r.Get("/", s.root)
		r.Get("/health", s.healthCheck)
		r.Post("/start-session", s.createSession)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/{sessionID}", s.getSession)
			r.Delete("/{sessionID}", s.closeSession)
			r.Get("/{sessionID}/questions", s.listQuestions)
			r.Get("/{sessionID}/questions/{questionID}/results", s.questionResults)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
	Live    *session.Info  `json:"live,omitempty"`
}

type QuestionsResponse struct {
	SessionID string            `json:"sessionId"`
	Questions []*types.Question `json:"questions"`
}

type ResultsResponse struct {
	QuestionID string `json:"questionId"`
	Total      int    `json:"total"`
	Correct    int    `json:"correct"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Sessions    map[string]int `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "lectern backend is running"})
}

// FUNCTIONAL DISCOVERY: Session creation is the only way an id comes into existence
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.CreateSession(r.Context())
	if err != nil {
		log.Printf("Failed to create session: %v", err)
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: sess.ID})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendStoreError(w, err, "Failed to get session")
		return
	}

	resp := SessionResponse{Session: sess}
	// Sessions from a previous process have no live state
	if info, err := s.sessions.Info(sessionID); err == nil {
		resp.Live = info
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	err := s.sessions.CloseSession(r.Context(), sessionID)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, map[string]string{"message": "Session closed"})
	case errors.Is(err, session.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionClosed):
		s.sendError(w, "Session already closed", http.StatusConflict)
	default:
		log.Printf("Failed to close session %s: %v", sessionID, err)
		s.sendError(w, "Failed to close session", http.StatusInternalServerError)
	}
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		s.sendStoreError(w, err, "Failed to get session")
		return
	}

	questions, err := s.store.ListQuestions(r.Context(), sessionID)
	if err != nil {
		s.sendStoreError(w, err, "Failed to list questions")
		return
	}
	if questions == nil {
		questions = []*types.Question{}
	}
	s.sendJSON(w, http.StatusOK, QuestionsResponse{SessionID: sessionID, Questions: questions})
}

// questionResults tallies graded answers for one question.
func (s *Server) questionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	questionID := chi.URLParam(r, "questionID")

	if _, err := s.store.GetQuestion(r.Context(), sessionID, questionID); err != nil {
		if errors.Is(err, interfaces.ErrQuestionNotFound) {
			s.sendError(w, "Question not found", http.StatusNotFound)
			return
		}
		s.sendStoreError(w, err, "Failed to get question")
		return
	}

	total, correct, err := s.store.CountAnswers(r.Context(), questionID)
	if err != nil {
		s.sendStoreError(w, err, "Failed to count answers")
		return
	}
	s.sendJSON(w, http.StatusOK, ResultsResponse{QuestionID: questionID, Total: total, Correct: correct})
}

// FUNCTIONAL DISCOVERY: GET /health returns 503 when the database does not answer
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Database:    dbStatus,
		Connections: s.connections.Stats(),
		Sessions:    s.sessions.Stats(),
	})
}

func (s *Server) sendStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	log.Printf("%s: %v", message, err)
	s.sendError(w, message, http.StatusInternalServerError)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables browser clients on any origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
