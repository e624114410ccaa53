// Package plugin is the CI-server elastic-agent plugin's HTTP router: one
// route per request name, each handler decoding its body and calling
// straight into internal/core (spec.md §6). Grounded on the teacher's
// gin route-per-verb + Handler-wraps-service pattern.
package plugin

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/ciagent/internal/common/apperr"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/core"
	"github.com/kandev/ciagent/internal/scheduler/profile"
)

// Handler holds the HTTP handlers for the plugin's request-name routes.
type Handler struct {
	core *core.Service
	log  *logger.Logger
}

// NewHandler constructs a Handler wrapping svc.
func NewHandler(svc *core.Service, log *logger.Logger) *Handler {
	return &Handler{core: svc, log: log.WithFields(zap.String("component", "plugin-api"))}
}

// SetupRoutes registers one route per CI-server plugin request name
// (spec.md §6).
func SetupRoutes(router *gin.RouterGroup, svc *core.Service, log *logger.Logger) {
	h := NewHandler(svc, log)

	router.GET("/get-icon", h.GetIcon)
	router.GET("/get-capabilities", h.GetCapabilities)
	router.POST("/migrate-config", h.MigrateConfig)
	router.GET("/get-cluster-profile-metadata", h.GetClusterProfileMetadata)
	router.GET("/get-elastic-agent-profile-metadata", h.GetAgentProfileMetadata)
	router.POST("/validate-cluster-profile", h.ValidateClusterProfile)
	router.POST("/validate-elastic-agent-profile", h.ValidateAgentProfile)
	router.POST("/server-ping", h.ServerPing)
	router.POST("/create-agent", h.CreateAgent)
	router.POST("/should-assign-work", h.ShouldAssignWork)
	router.POST("/job-completion", h.JobCompletion)
	router.GET("/agent-status-report", h.AgentStatusReport)
	router.GET("/cluster-status-report", h.ClusterStatusReport)
	router.GET("/plugin-status-report", h.PluginStatusReport)
}

func (h *Handler) fail(c *gin.Context, err error) {
	appErr := apperr.Wrap(err, "request failed")
	h.log.Error("plugin request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(appErr.HTTPStatus, appErr)
}

// GetIcon answers "get-icon": the embedded plugin icon, base64-encoded
// (spec.md §6).
func (h *Handler) GetIcon(c *gin.Context) {
	c.JSON(http.StatusOK, getIconResponse{
		ContentType: "image/png",
		Data:        base64.StdEncoding.EncodeToString(iconPNG),
	})
}

// GetCapabilities answers "get-capabilities".
func (h *Handler) GetCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Capabilities())
}

// MigrateConfig answers "migrate-config".
func (h *Handler) MigrateConfig(c *gin.Context) {
	var req migrateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	clusters, agents := h.core.MigrateConfig(req.ClusterProfiles, req.ElasticAgentProfiles)
	c.JSON(http.StatusOK, migrateConfigResponse{ClusterProfiles: clusters, ElasticAgentProfiles: agents})
}

// GetClusterProfileMetadata answers "get-cluster-profile-metadata".
func (h *Handler) GetClusterProfileMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.ClusterProfileMetadata())
}

// GetAgentProfileMetadata answers "get-elastic-agent-profile-metadata".
func (h *Handler) GetAgentProfileMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.AgentProfileMetadata())
}

// ValidateClusterProfile answers "validate-cluster-profile" (spec.md §7
// error kind 2: an empty array means valid).
func (h *Handler) ValidateClusterProfile(c *gin.Context) {
	var req validateClusterProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	errs := h.core.ValidateClusterProfile(req)
	c.JSON(http.StatusOK, orEmpty(errs))
}

// ValidateAgentProfile answers "validate-elastic-agent-profile".
func (h *Handler) ValidateAgentProfile(c *gin.Context) {
	var req validateAgentProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	errs := h.core.ValidateAgentProfile(req)
	c.JSON(http.StatusOK, orEmpty(errs))
}

func orEmpty(errs []profile.FieldError) []profile.FieldError {
	if errs == nil {
		return []profile.FieldError{}
	}
	return errs
}

// ServerPing answers "server-ping": triggers one reconciliation pass
// (spec.md §4.9).
func (h *Handler) ServerPing(c *gin.Context) {
	var req serverPingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.core.ServerPing(c.Request.Context(), req.AllClusterProfileProperties); err != nil {
		h.fail(c, err)
		return
	}
	h.core.RefreshMetrics()
	c.JSON(http.StatusOK, gin.H{})
}

// CreateAgent answers "create-agent": admits and, if accepted, launches a
// new agent (spec.md §4.8, §4.10).
func (h *Handler) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	err := h.core.CreateAgent(c.Request.Context(), core.CreateAgentRequest{
		Cluster:         req.ClusterProfileProperties,
		AgentProfile:    req.ElasticAgentProfileProperties,
		Environment:     req.Environment,
		AutoRegisterKey: req.AutoRegisterKey,
		JobID:           req.JobIdentifier.JobID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ShouldAssignWork answers "should-assign-work": the response body is the
// literal string "true" or "false" (spec.md §6).
func (h *Handler) ShouldAssignWork(c *gin.Context) {
	var req shouldAssignWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	ok := h.core.ShouldAssignWork(req.Agent.AgentID, req.ElasticAgentProfileProperties)
	if ok {
		c.String(http.StatusOK, "true")
		return
	}
	c.String(http.StatusOK, "false")
}

// JobCompletion answers "job-completion".
func (h *Handler) JobCompletion(c *gin.Context) {
	var req jobCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.core.JobCompletion(req.ElasticAgentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// AgentStatusReport answers "agent-status-report" with a minimal HTML
// view of one agent's record.
func (h *Handler) AgentStatusReport(c *gin.Context) {
	agentID := c.Query("elastic_agent_id")
	r, ok := h.core.AgentRecord(agentID)
	if !ok {
		appErr := apperr.NotFound("agent", agentID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(renderAgentReport(r)))
}

// ClusterStatusReport answers "cluster-status-report" with a per-state
// agent tally for the named cluster.
func (h *Handler) ClusterStatusReport(c *gin.Context) {
	cluster := c.Query("cluster_name")
	counts := h.core.ClusterSnapshot(cluster)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(renderClusterReport(cluster, counts)))
}

// PluginStatusReport answers "plugin-status-report" with a static view
// describing the running plugin.
func (h *Handler) PluginStatusReport(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(renderPluginReport()))
}
