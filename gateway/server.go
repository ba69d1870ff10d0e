package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/fabula/catalog"
	"github.com/c360/fabula/collab"
	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/logic"
	"github.com/c360/fabula/nodetype"
	"github.com/c360/fabula/refindex"
)

// Config tunes the HTTP server
type Config struct {
	Addr            string        // listen address, e.g. ":8080"
	MaxRequestSize  int64         // request body cap in bytes
	ShutdownTimeout time.Duration // graceful drain window
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Server is the HTTP and WebSocket front of the service
type Server struct {
	config   Config
	store    *flowstore.Store
	hub      *collab.Hub
	tracker  *refindex.Tracker
	registry *nodetype.Registry
	catalog  *catalog.MemoryCatalog
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer wires the server; catalog may be nil when variables are managed
// elsewhere
func NewServer(config Config, store *flowstore.Store, hub *collab.Hub, tracker *refindex.Tracker,
	registry *nodetype.Registry, cat *catalog.MemoryCatalog, logger *slog.Logger) (*Server, error) {

	if store == nil || hub == nil || tracker == nil || registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"store, hub, tracker and registry are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   config.withDefaults(),
		store:    store,
		hub:      hub,
		tracker:  tracker,
		registry: registry,
		catalog:  cat,
		logger:   logger.With("component", "gateway"),
	}, nil
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/flows", s.handleListFlows)
	mux.HandleFunc("POST /v1/flows", s.handleCreateFlow)
	mux.HandleFunc("GET /v1/flows/{id}", s.handleGetFlow)
	mux.HandleFunc("PATCH /v1/flows/{id}", s.handlePatchFlow)
	mux.HandleFunc("DELETE /v1/flows/{id}", s.handleTrashFlow)
	mux.HandleFunc("POST /v1/flows/{id}/restore", s.handleRestoreFlow)
	mux.HandleFunc("GET /v1/trash", s.handleListTrash)
	mux.HandleFunc("DELETE /v1/trash", s.handlePurgeTrash)

	mux.HandleFunc("GET /v1/nodes/{id}", s.handleGetNode)

	mux.HandleFunc("GET /v1/variables/{sheet}/{name}/usage", s.handleVariableUsage)
	mux.HandleFunc("GET /v1/variables/{sheet}/{name}/stale", s.handleVariableStale)
	mux.HandleFunc("POST /v1/variables/repair", s.handleVariableRepair)
	if s.catalog != nil {
		mux.HandleFunc("POST /v1/variables", s.handleDefineVariable)
		mux.HandleFunc("DELETE /v1/variables/{sheet}/{name}", s.handleRemoveVariable)
	}

	mux.HandleFunc("GET /v1/flows/{id}/session", s.handleWebSocket)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return http.MaxBytesHandler(mux, s.config.MaxRequestSize)
}

// Start runs the server; it blocks until the server closes
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}
	s.server = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("gateway listening", "addr", s.config.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "listen and serve")
	}
	return nil
}

// Stop drains in-flight requests then closes
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}
	return nil
}

// errorBody is the JSON error envelope
type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func classLabel(class errors.ErrorClass) string {
	switch class {
	case errors.ErrorStructural:
		return "structural_violation"
	case errors.ErrorSchema:
		return "schema_violation"
	case errors.ErrorLockRequired:
		return "lock_required"
	case errors.ErrorLockConflict:
		return "lock_conflict"
	case errors.ErrorNotFound:
		return "not_found"
	case errors.ErrorInvalid:
		return "invalid"
	case errors.ErrorTransient:
		return "transient"
	default:
		return "internal"
	}
}

func statusFor(err error) int {
	switch errors.Classify(err) {
	case errors.ErrorNotFound:
		return http.StatusNotFound
	case errors.ErrorInvalid, errors.ErrorSchema, errors.ErrorStructural:
		return http.StatusUnprocessableEntity
	case errors.ErrorLockRequired:
		return http.StatusPreconditionRequired
	case errors.ErrorLockConflict:
		return http.StatusConflict
	case errors.ErrorTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{
		Error: err.Error(),
		Class: classLabel(errors.Classify(err)),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.WrapInvalid(err, "Server", "decode", "request body")
	}
	return nil
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListFlows(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string `json:"name"`
		ParentID  string `json:"parent_id"`
		CreatedBy string `json:"created_by"`
	}
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	flow, err := s.store.CreateFlow(r.Context(), flowstore.CreateFlowParams{
		Name:      body.Name,
		ParentID:  body.ParentID,
		CreatedBy: body.CreatedBy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, flow)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.store.GetFlow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

// handlePatchFlow applies whichever flow-level fields the body carries:
// rename, move within the tree, or viewport save
func (s *Server) handlePatchFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Name     *string             `json:"name"`
		ParentID *string             `json:"parent_id"`
		Position *int                `json:"position"`
		Viewport *flowstore.Viewport `json:"viewport"`
	}
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	var flow *flowstore.Flow
	var err error
	switch {
	case body.Name != nil:
		flow, err = s.store.RenameFlow(r.Context(), id, *body.Name)
	case body.ParentID != nil:
		position := 0
		if body.Position != nil {
			position = *body.Position
		}
		flow, err = s.store.MoveFlow(r.Context(), id, *body.ParentID, position)
	case body.Viewport != nil:
		flow, err = s.store.UpdateViewport(r.Context(), id, *body.Viewport)
	default:
		err = errors.WrapInvalid(fmt.Errorf("empty patch"),
			"Server", "handlePatchFlow", "no recognized field")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleTrashFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.TrashFlow(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RestoreFlow(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTrash(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListTrash(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handlePurgeTrash(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Now()
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, errors.WrapInvalid(err, "Server", "handlePurgeTrash", "parse older_than"))
			return
		}
		olderThan = parsed
	}
	purged, err := s.store.PurgeTrash(r.Context(), olderThan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"purged": purged})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.Node(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleVariableUsage(w http.ResponseWriter, r *http.Request) {
	sheet, name := r.PathValue("sheet"), r.PathValue("name")
	usage := s.tracker.Usage(sheet, name)
	counts := s.tracker.Count(sheet, name)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"usage":  usage,
		"counts": counts,
	})
}

func (s *Server) handleVariableStale(w http.ResponseWriter, r *http.Request) {
	sheet, name := r.PathValue("sheet"), r.PathValue("name")
	stale, err := s.tracker.Stale(r.Context(), s.registry, s.store, sheet, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stale": stale})
}

func (s *Server) handleVariableRepair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	from, err := logic.ParseVariableRef(body.From)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := logic.ParseVariableRef(body.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	repaired, err := s.tracker.Repair(r.Context(), s.registry, s.store, s.store, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"repaired": repaired})
}

func (s *Server) handleDefineVariable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sheet string `json:"sheet"`
		Name  string `json:"name"`
		Kind  string `json:"kind"`
	}
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.catalog.Define(catalog.Descriptor{
		Sheet: body.Sheet,
		Name:  body.Name,
		Kind:  logic.ValueKind(body.Kind),
	}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveVariable(w http.ResponseWriter, r *http.Request) {
	s.catalog.Remove(r.PathValue("sheet"), r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}
