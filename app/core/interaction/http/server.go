package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lastagent/app/core/executor"
	"lastagent/app/core/interaction/gateway"
	"lastagent/app/core/orchestrator"
	"lastagent/app/core/orchestrator/approval"
	"lastagent/app/core/orchestrator/mesh"
	"lastagent/app/pkg/logger"
	"lastagent/app/pkg/types"
)

// Server is the HTTP channel: a JSON API over the gateway under /v1.
type Server struct {
	id              string
	port            int
	gateway         *gateway.Gateway
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewServer(port int, gw *gateway.Gateway) *Server {
	return &Server{
		id:              "http",
		port:            port,
		gateway:         gw,
		shutdownTimeout: 5 * time.Second,
	}
}

func (s *Server) ID() string {
	return s.id
}

func (s *Server) SetShutdownTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.shutdownTimeout = timeout
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByID)
	mux.HandleFunc("/v1/approvals", s.handleApprovals)
	mux.HandleFunc("/v1/approvals/", s.handleApprovalByID)
	mux.HandleFunc("/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/v1/feedback", s.handleFeedback)
	mux.HandleFunc("/v1/agents", s.handleAgents)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("[http] shutdown: %v", err)
		}
	}()

	logger.Info("[http] listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type submitRequest struct {
	Prompt           string `json:"prompt"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	ApprovalMode     string `json:"approval_mode,omitempty"`
	Async            bool   `json:"async,omitempty"`
}

type delegateRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Preview   string `json:"preview,omitempty"`
}

type decideRequest struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
}

type feedbackRequest struct {
	TaskID  string `json:"task_id"`
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// POST /v1/tasks submits a task; GET lists recent ones.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parseListLimit(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tasks": s.gateway.Orchestrator().Tasks(limit),
		})
	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		taskReq := types.TaskRequest{
			SystemPrompt:     req.SystemPrompt,
			UserPrompt:       req.Prompt,
			WorkingDirectory: req.WorkingDirectory,
			ApprovalMode:     req.ApprovalMode,
			Meta:             map[string]string{"channel": s.id},
		}

		if req.Async {
			task, err := s.gateway.SubmitAsync(r.Context(), taskReq)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, task)
			return
		}

		task, err := s.gateway.Submit(r.Context(), taskReq)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, task)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /v1/tasks/{id} and the delegations and decisions sub-resources.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID, sub, ok := parseTaskPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	orch := s.gateway.Orchestrator()

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		task, err := orch.Task(taskID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, task)
	case "delegations":
		s.handleDelegations(w, r, taskID)
	case "decisions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		records, err := orch.Decisions(r.Context(), taskID, parseListLimit(r.URL.Query().Get("limit")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": records})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleDelegations(w http.ResponseWriter, r *http.Request, taskID string) {
	orch := s.gateway.Orchestrator()
	switch r.Method {
	case http.MethodGet:
		hops, err := orch.Delegations(r.Context(), taskID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"delegations": hops})
	case http.MethodPost:
		var req delegateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		record, err := orch.Delegate(r.Context(), taskID, req.FromAgent, req.ToAgent, req.Preview)
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrTaskNotFound):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, mesh.ErrDelegationCycle), errors.Is(err, mesh.ErrDepthExceeded):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, executor.ErrUnknownAgent):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusCreated, record)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /v1/approvals lists pending requests.
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending := s.gateway.Orchestrator().PendingApprovals()
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": pending})
}

// POST /v1/approvals/{id} commits a decision. A request that already has an
// outcome answers 409; one that expired answers 410.
func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/approvals/"), "/")
	if requestID == "" || strings.Contains(requestID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.DecidedBy) == "" {
		req.DecidedBy = "api"
	}

	resp, err := s.gateway.Orchestrator().DecideApproval(requestID, req.Approved, req.DecidedBy)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, approval.ErrRequestExpired):
			writeError(w, http.StatusGone, err.Error())
		case errors.Is(err, approval.ErrDuplicateResponse):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/decisions lists audit records, optionally filtered by task_id.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	records, err := s.gateway.Orchestrator().Decisions(r.Context(),
		r.URL.Query().Get("task_id"), parseListLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": records})
}

// POST /v1/feedback appends a feedback record against a task.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	text := req.Comment
	if req.Rating != 0 {
		text = fmt.Sprintf("rating=%d %s", req.Rating, req.Comment)
	}
	id, err := s.gateway.Orchestrator().LogFeedback(r.Context(), req.TaskID, text)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GET /v1/agents lists the catalog the council selects from.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	catalog := s.gateway.Orchestrator().Agents()
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": catalog.Agents})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"gateway": s.gateway.Health(),
		"agents":  s.gateway.Orchestrator().Agents().Names(),
	})
}

func parseTaskPath(path string) (id string, sub string, ok bool) {
	if !strings.HasPrefix(path, "/v1/tasks/") {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, "/v1/tasks/"), "/")
	if tail == "" {
		return "", "", false
	}
	parts := strings.Split(tail, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	}
	return "", "", false
}

func parseListLimit(raw string) int {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return defaultLimit
	}
	if size > maxLimit {
		return maxLimit
	}
	return size
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[http] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
