package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/artifacts"
	"github.com/wckdouglas/rodeo/internal/history"
	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/interpreters"
	"github.com/wckdouglas/rodeo/internal/session"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
	"github.com/wckdouglas/rodeo/internal/terminal"
)

// Handlers carries every REST dependency.
type Handlers struct {
	sessions *session.Manager
	store    *artifacts.Store
	history  *history.Store
	registry *interpreters.Registry
	prober   *interpreters.Prober
	terms    *terminal.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	sessions *session.Manager,
	store *artifacts.Store,
	hist *history.Store,
	registry *interpreters.Registry,
	prober *interpreters.Prober,
	terms *terminal.Manager,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		store:    store,
		history:  hist,
		registry: registry,
		prober:   prober,
		terms:    terms,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes wires every REST endpoint onto r. stream serves the
// per-session WebSocket and may be nil in tests that skip streaming.
func RegisterRoutes(r gin.IRouter, h *Handlers, stream gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api")

	api.GET("/status", h.StatusJSON)

	kernels := api.Group("/kernels")
	{
		kernels.POST("", h.CreateSession)
		kernels.GET("", h.ListSessions)
		kernels.GET("/:id", h.GetSession)
		kernels.DELETE("/:id", h.KillSession)
		kernels.POST("/:id/execute", h.Execute)
		kernels.POST("/:id/execute/hidden", h.ExecuteHidden)
		kernels.POST("/:id/eval", h.Eval)
		kernels.POST("/:id/complete", h.Complete)
		kernels.POST("/:id/iscomplete", h.IsComplete)
		kernels.POST("/:id/inspect", h.Inspect)
		kernels.POST("/:id/interrupt", h.Interrupt)
		kernels.POST("/:id/input", h.InputReply)
		kernels.GET("/:id/history", h.SessionHistory)
	}

	api.GET("/interpreters", h.ListInterpreters)
	api.POST("/interpreters/check", h.CheckInterpreter)

	arts := api.Group("/artifacts")
	{
		arts.GET("/:key", h.GetArtifact)
		arts.GET("/:key/meta", h.GetArtifactMeta)
		arts.POST("/:key/save", h.SaveArtifact)
	}

	terms := api.Group("/terminals")
	{
		terms.POST("", h.CreateTerminal)
		terms.GET("", h.ListTerminals)
		terms.GET("/:id", h.GetTerminal)
		terms.GET("/:id/output", h.TerminalOutput)
		terms.POST("/:id/input", h.TerminalInput)
		terms.POST("/:id/resize", h.ResizeTerminal)
		terms.DELETE("/:id", h.CloseTerminal)
	}

	if stream != nil {
		api.GET("/stream/:id", stream)
	}
}

// Health is the liveness endpoint.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"kernels":   h.sessions.Len(),
		"terminals": h.terms.Len(),
		"artifacts": h.store.Len(),
	})
}

// StatusJSON reports process counters for the GUI status bar.
func (h *Handlers) StatusJSON(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"requests_total":      snap.TotalRequests,
		"errors_total":        snap.TotalErrors,
		"active_kernels":      snap.ActiveKernels,
		"active_connections":  snap.ActiveConnections,
		"avg_request_seconds": snap.AvgRequestSeconds(),
	})
}

// CreateSession launches a kernel and returns its id immediately; the
// subprocess finishes starting in the background.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	id, err := h.sessions.Create(c.Request.Context(), types.LaunchOptions{
		Cmd:  req.Cmd,
		Args: req.Args,
		Cwd:  req.Cwd,
		Env:  req.Env,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListSessions returns every live session with uptime and stats.
func (h *Handlers) ListSessions(c *gin.Context) {
	infos := h.sessions.List()
	out := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		out = append(out, gin.H{
			"id":         info.ID,
			"state":      info.State,
			"created_at": info.CreatedAt,
			"uptime_ms":  time.Since(info.CreatedAt).Milliseconds(),
			"stats":      info.Stats,
		})
	}
	c.JSON(http.StatusOK, gin.H{"kernels": out, "count": len(out)})
}

// GetSession returns the status snapshot for one session. It never
// waits on readiness; a still-starting kernel reports state=creating.
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	info := s.Info()
	status := s.Status()
	c.JSON(http.StatusOK, gin.H{
		"id":              info.ID,
		"state":           status.State,
		"execution_state": status.ExecutionState,
		"pid":             status.PID,
		"pending":         status.Pending,
		"language":        status.Language,
		"banner":          status.Banner,
		"created_at":      info.CreatedAt,
		"uptime_ms":       time.Since(info.CreatedAt).Milliseconds(),
		"stats":           info.Stats,
	})
}

// KillSession tears the session down and removes it.
func (h *Handlers) KillSession(c *gin.Context) {
	if err := h.sessions.Kill(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) Execute(c *gin.Context) {
	h.runCode(c, h.sessions.Execute)
}

func (h *Handlers) ExecuteHidden(c *gin.Context) {
	h.runCode(c, h.sessions.ExecuteHidden)
}

func (h *Handlers) Eval(c *gin.Context) {
	h.runCode(c, h.sessions.Eval)
}

// runCode binds {code} and runs it through one of the execute variants.
func (h *Handlers) runCode(c *gin.Context, run func(context.Context, string, string) (types.ExecuteResult, error)) {
	var req codeRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	res, err := run(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          res.Status,
		"execution_count": res.ExecutionCount,
		"content":         json.RawMessage(res.Content),
	})
}

// Complete returns completion candidates; slow kernels surface as 504.
func (h *Handlers) Complete(c *gin.Context) {
	var req completeRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	res, err := h.sessions.GetAutoComplete(c.Request.Context(), c.Param("id"), req.Code, req.Cursor)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) IsComplete(c *gin.Context) {
	var req codeRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	res, err := h.sessions.IsComplete(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) Inspect(c *gin.Context) {
	var req inspectRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	res, err := h.sessions.GetInspection(c.Request.Context(), c.Param("id"), req.Code, req.Cursor, req.Detail)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Interrupt asks the kernel to abort in-flight work. No body.
func (h *Handlers) Interrupt(c *gin.Context) {
	if err := h.sessions.Interrupt(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// InputReply answers a pending input_request event.
func (h *Handlers) InputReply(c *gin.Context) {
	var req inputReplyRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	if err := h.sessions.SendInputReply(c.Request.Context(), c.Param("id"), req.Value); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SessionHistory lists recent executions. History outlives sessions, so
// this works for kernels that are already gone.
func (h *Handlers) SessionHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			renderError(c, errs.InvalidArgumentf("limit %q is not a number", raw))
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		renderError(c, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

// ListInterpreters returns the registry plus discovered candidates.
func (h *Handlers) ListInterpreters(c *gin.Context) {
	specs := h.registry.List()
	candidates := h.registry.Discover(c.Request.Context())
	if candidates == nil {
		candidates = []interpreters.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{
		"interpreters": specs,
		"discovered":   candidates,
	})
}

// CheckInterpreter probes a command. Invalid interpreters are a 200
// with valid=false; only malformed requests fail.
func (h *Handlers) CheckInterpreter(c *gin.Context) {
	var req checkInterpreterRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	res, err := h.prober.Check(c.Request.Context(), req.Cmd, req.Cwd)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetArtifact serves the artifact bytes behind a route key.
func (h *Handlers) GetArtifact(c *gin.Context) {
	path, err := h.store.Resolve(c.Param("key"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.File(path)
}

// GetArtifactMeta returns size, checksum, MIME, and HTML extras.
func (h *Handlers) GetArtifactMeta(c *gin.Context) {
	meta, err := h.store.Meta(c.Param("key"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// SaveArtifact promotes the artifact to a user-chosen destination. The
// route stays valid afterwards.
func (h *Handlers) SaveArtifact(c *gin.Context) {
	var req saveArtifactRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	key := c.Param("key")
	if err := h.store.Promote(key, req.Dest); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key, "dest": req.Dest})
}

// CreateTerminal opens a PTY-backed shell.
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req createTerminalRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	info, err := h.terms.Create(terminal.Options{
		Shell: req.Shell,
		Cwd:   req.Cwd,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Env:   req.Env,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *Handlers) ListTerminals(c *gin.Context) {
	list := h.terms.List()
	c.JSON(http.StatusOK, gin.H{"terminals": list, "count": len(list)})
}

func (h *Handlers) GetTerminal(c *gin.Context) {
	info, err := h.terms.Get(c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// TerminalOutput drains buffered shell output. Base64 rides along for
// clients that cannot trust raw control bytes in JSON strings.
func (h *Handlers) TerminalOutput(c *gin.Context) {
	out, err := h.terms.Read(c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"output":        string(out),
		"output_base64": base64.StdEncoding.EncodeToString(out),
		"length":        len(out),
	})
}

func (h *Handlers) TerminalInput(c *gin.Context) {
	var req terminalInputRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	if err := h.terms.Write(c.Param("id"), []byte(req.Input)); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) ResizeTerminal(c *gin.Context) {
	var req resizeTerminalRequest
	if err := bindStrict(c, &req); err != nil {
		renderError(c, err)
		return
	}

	if err := h.terms.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) CloseTerminal(c *gin.Context) {
	if err := h.terms.Close(c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
