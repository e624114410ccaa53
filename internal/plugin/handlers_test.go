package plugin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/core"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/executor/fake"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	executors := executor.NewCache(func(string) (executor.Client, error) { return fake.New(), nil })
	rec := metrics.New(prometheus.NewRegistry())
	svc := core.New(ciserver.NewFake(), executors, 1, statemachine.DefaultTimeouts, rec, logger.Default())
	t.Cleanup(svc.Close)

	r := gin.New()
	SetupRoutes(r.Group("/plugin"), svc, logger.Default())
	return r
}

func doRequest(r *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetIconReturnsEmbeddedPNG(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/plugin/get-icon", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp getIconResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "image/png", resp.ContentType)
	assert.NotEmpty(t, resp.Data)
}

func TestGetCapabilities(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/plugin/get-capabilities", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "supports_plugin_status_report")
}

func TestValidateClusterProfileReturnsEmptyArrayWhenValid(t *testing.T) {
	r := newTestRouter(t)
	body := `{"executor_url":"http://x","cluster_name":"c","role":"r","server_api_url":"http://ci"}`
	w := doRequest(r, http.MethodPost, "/plugin/validate-cluster-profile", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestValidateAgentProfileReportsFieldErrors(t *testing.T) {
	r := newTestRouter(t)
	body := `{"tag":"INVALID"}`
	w := doRequest(r, http.MethodPost, "/plugin/validate-elastic-agent-profile", body)
	require.Equal(t, http.StatusOK, w.Code)

	var errs []profile.FieldError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errs))
	assert.NotEmpty(t, errs)
}

func TestShouldAssignWorkRespondsWithLiteralFalseForUnknownAgent(t *testing.T) {
	r := newTestRouter(t)
	body := `{"agent":{"agent_id":"no/such/agent/build-agent-0"},"elastic_agent_profile_properties":{"tag":"build","cpu":"1","ram":"512","disk":"1024"}}`
	w := doRequest(r, http.MethodPost, "/plugin/should-assign-work", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Body.String())
}

func TestServerPingThenClusterStatusReport(t *testing.T) {
	r := newTestRouter(t)
	pingBody := `{"all_cluster_profile_properties":[{"executor_url":"http://x","cluster_name":"aws-dev","role":"www","server_api_url":"http://ci"}]}`
	w := doRequest(r, http.MethodPost, "/plugin/server-ping", pingBody)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/plugin/cluster-status-report?cluster_name=aws-dev", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aws-dev")
}

func TestAgentStatusReportNotFound(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/plugin/agent-status-report?elastic_agent_id=missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPluginStatusReport(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/plugin/plugin-status-report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plugin-status-report")
}
