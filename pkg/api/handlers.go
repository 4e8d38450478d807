package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/shell"

	"github.com/gin-gonic/gin"
)

const (
	defaultLogLines  = 2000
	viteProbeTimeout = 150 * time.Millisecond
)

// AppService is the part of the lifecycle manager the HTTP layer drives
type AppService interface {
	List(ctx context.Context) ([]launcher.AppView, error)
	Launch(ctx context.Context, id string) launcher.Result
	Stop(ctx context.Context, id string) launcher.Result
	Logs(id string, lines int) (string, error)
	History(id string) []launcher.StateTransition
	Add(ctx context.Context, def appconfig.AppDefinition) error
	UpdateWorkspace(ctx context.Context, id, workspace string) error
	Delete(ctx context.Context, id string) error
}

// FrontendOptions decides whether the UI loads assets from a Vite dev server
type FrontendOptions struct {
	LauncherEnv string
	ViteHost    string
	VitePort    int
}

func (o FrontendOptions) ViteOrigin() string {
	return fmt.Sprintf("http://%s:%d", o.ViteHost, o.VitePort)
}

// Mode normalizes LauncherEnv; anything but production/prod is development
func (o FrontendOptions) Mode() string {
	switch strings.ToLower(strings.TrimSpace(o.LauncherEnv)) {
	case "production", "prod":
		return "production"
	}
	return "development"
}

type Handlers struct {
	service  AppService
	frontend FrontendOptions
	logger   logging.Logger

	viteReachable func(ctx context.Context) bool
}

func NewHandlers(service AppService, frontend FrontendOptions, logger logging.Logger) *Handlers {
	h := &Handlers{
		service:  service,
		frontend: frontend,
		logger:   logger,
	}
	h.viteReachable = func(ctx context.Context) bool {
		return monitoring.TCPReachable(ctx, frontend.ViteHost, frontend.VitePort, viteProbeTimeout)
	}
	return h
}

type appIDRequest struct {
	AppID string `json:"app_id" binding:"required"`
}

type updateWorkspaceRequest struct {
	AppID     string `json:"app_id" binding:"required"`
	Workspace string `json:"workspace" binding:"required"`
}

type startCommandRequest struct {
	Cmd   string `json:"cmd"`
	Shell string `json:"shell"`
	Cwd   string `json:"cwd"`
}

type healthCheckRequest struct {
	URL        string `json:"url"`
	TimeoutSec int    `json:"timeout_sec"`
}

type addAppRequest struct {
	ID            string                `json:"id" binding:"required"`
	Name          string                `json:"name" binding:"required"`
	Workspace     string                `json:"workspace" binding:"required"`
	StartCommands []startCommandRequest `json:"start_commands"`
	HealthChecks  []healthCheckRequest  `json:"health_checks"`
	OpenURLs      []string              `json:"open_urls"`
	Ports         []int                 `json:"ports"`
}

func (r addAppRequest) definition() appconfig.AppDefinition {
	def := appconfig.AppDefinition{
		ID:        r.ID,
		Name:      r.Name,
		Workspace: r.Workspace,
		Start:     make([]appconfig.StartStep, 0, len(r.StartCommands)),
		Health:    make([]appconfig.HealthCheck, 0, len(r.HealthChecks)),
		Open:      make([]appconfig.OpenURL, 0, len(r.OpenURLs)),
		Ports:     r.Ports,
	}
	for _, cmd := range r.StartCommands {
		def.Start = append(def.Start, appconfig.StartStep{Cmd: cmd.Cmd, Shell: shell.Kind(cmd.Shell), Cwd: cmd.Cwd})
	}
	for _, check := range r.HealthChecks {
		def.Health = append(def.Health, appconfig.HealthCheck{URL: check.URL, TimeoutSec: check.TimeoutSec})
	}
	for _, url := range r.OpenURLs {
		def.Open = append(def.Open, appconfig.OpenURL{URL: url})
	}
	return def
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}

func (h *Handlers) ListApps(c *gin.Context) {
	views, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list apps: %v", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": views})
}

func (h *Handlers) LaunchApp(c *gin.Context) {
	var req appIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := h.service.Launch(c.Request.Context(), req.AppID)
	switch {
	case errors.IsNotFoundError(result.Err):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Application not found"})
	case errors.IsAlreadyStartingError(result.Err):
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (h *Handlers) StopApp(c *gin.Context) {
	var req appIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := h.service.Stop(c.Request.Context(), req.AppID)
	if errors.IsNotFoundError(result.Err) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Application not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) GetLogs(c *gin.Context) {
	appID := c.Param("id")

	lines := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "lines must be an integer"})
			return
		}
		lines = parsed
	}

	logs, err := h.service.Logs(appID, lines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "logs": logs})
}

func (h *Handlers) GetHistory(c *gin.Context) {
	appID := c.Param("id")
	history := h.service.History(appID)
	if history == nil {
		history = []launcher.StateTransition{}
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "history": history})
}

func (h *Handlers) AddApp(c *gin.Context) {
	var req addAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.service.Add(c.Request.Context(), req.definition()); err != nil {
		h.logger.Warnf("Failed to add app, id: %s, error: %v", req.ID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": launcher.ResultSuccess, "message": "Application added"})
}

func (h *Handlers) UpdateWorkspace(c *gin.Context) {
	var req updateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.service.UpdateWorkspace(c.Request.Context(), req.AppID, req.Workspace); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": launcher.ResultSuccess, "message": "Workspace updated"})
}

func (h *Handlers) DeleteApp(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": launcher.ResultSuccess, "message": "Application deleted"})
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Launcher is running"})
}

// Frontend reports how the UI should load its assets
func (h *Handlers) Frontend(c *gin.Context) {
	mode := h.frontend.Mode()
	c.JSON(http.StatusOK, gin.H{
		"launcher_env": mode,
		"use_vite":     mode == "development" && h.viteReachable(c.Request.Context()),
		"vite_origin":  h.frontend.ViteOrigin(),
	})
}
