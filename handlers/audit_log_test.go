package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogs(t *testing.T) {
	s := setupServer(t)
	s.create(t, "data_access")

	assert.Equal(t, http.StatusForbidden, s.do(t, &csr, http.MethodGet, "/api/v1/audit-logs", nil).Code)

	rec := s.do(t, &admin, http.MethodGet, "/api/v1/audit-logs?action=CREATE&resourceType=DSARRequest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total"])
	logs := body["logs"].([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "CREATE", logs[0].(map[string]interface{})["action"])

	rec = s.do(t, &admin, http.MethodGet, "/api/v1/audit-logs?dateFrom=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "dateFrom")
}
