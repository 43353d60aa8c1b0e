package management

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/internal/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, serviceFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newServiceFixture(t)
	router := gin.New()
	NewHandler(f.svc, logger.NopLogger()).RegisterRoutes(router)
	return router, f
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestStepFilterCRUDRoutes(t *testing.T) {
	router, f := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters", map[string]interface{}{
		"name":        "vip-only",
		"workflow_id": "welcome",
		"step_id":     "email",
		"filters":     json.RawMessage(vipFilters),
		"priority":    3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created StepFilter
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/step-filters/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched StepFilter
	decodeBody(t, rec, &fetched)
	assert.Equal(t, "vip-only", fetched.Name)
	assert.JSONEq(t, string(created.Filters), string(fetched.Filters))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/step-filters?workflow_id=welcome", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []StepFilter
	decodeBody(t, rec, &listed)
	assert.Len(t, listed, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/step-filters?workflow_id=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, "/api/v1/step-filters/"+created.ID, map[string]interface{}{
		"enabled":  false,
		"on_error": "allow",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated StepFilter
	decodeBody(t, rec, &updated)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "allow", updated.OnError)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/step-filters/"+created.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []AuditLog
	decodeBody(t, rec, &logs)
	assert.Len(t, logs, 2)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/step-filters/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/step-filters/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/audit/logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &logs)
	assert.Len(t, logs, 3)

	assert.Len(t, f.producer.messages, 3)
}

func TestCreateStepFilterErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "invalid json",
			body:   `{"name":`,
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "missing required binding",
			body:   map[string]interface{}{"name": "a"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name: "malformed filter",
			body: map[string]interface{}{
				"name":    "a",
				"step_id": "s",
				"filters": []interface{}{map[string]interface{}{"on": "payload", "field": "x", "operator": "BOGUS", "value": 1}},
			},
			status: http.StatusUnprocessableEntity,
			code:   "MALFORMED_FILTER",
		},
		{
			name:   "invalid expression",
			body:   map[string]interface{}{"name": "a", "step_id": "s", "expression": "payload.x =="},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp map[string]interface{}
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.code, resp["error_code"])
		})
	}
}

func TestCreateStepFilterConflictRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	body := map[string]interface{}{"name": "a", "step_id": "s"}

	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/step-filters", body).Code)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEvaluateRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters/evaluate", map[string]interface{}{
		"filters": []interface{}{
			map[string]interface{}{
				"type":  "GROUP",
				"value": "OR",
				"children": []interface{}{
					map[string]interface{}{"type": "payload", "value": map[string]interface{}{"field": "tier", "operator": "EQUAL", "expected": "gold"}},
					map[string]interface{}{"type": "subscriber", "value": map[string]interface{}{"field": "locale", "operator": "EQUAL", "expected": "de"}},
				},
			},
		},
		"context": map[string]interface{}{
			"payload":    map[string]interface{}{"tier": "vip"},
			"subscriber": map[string]interface{}{"locale": "de"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DryRunResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Passed)
	require.Len(t, resp.Explanations, 1)
	require.Len(t, resp.Explanations[0].Children, 2)
	require.NotNil(t, resp.Explanations[0].Children[1].Result)
	assert.True(t, *resp.Explanations[0].Children[1].Result)
}

func TestEvaluateRouteReportsEvaluationError(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters/evaluate", map[string]interface{}{
		"filters": json.RawMessage(`[{"on":"tenant","field":"plan","operator":"EQUAL","value":"pro"}]`),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DryRunResponse
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Passed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_FIELD_REFERENCE", resp.Error["error_code"])
	details, ok := resp.Error["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tenant.plan", details["field"])
	assert.Equal(t, float64(0), details["filter"])
}

func TestEvaluateRouteMalformed(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/step-filters/evaluate", map[string]interface{}{
		"filters": json.RawMessage(`[{"type":"GROUP","value":"XOR"}]`),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 100, parseLimit(""))
	assert.Equal(t, 5, parseLimit("5"))
	assert.Equal(t, 100, parseLimit("-1"))
	assert.Equal(t, 100, parseLimit("abc"))
	assert.Equal(t, 100, parseLimit("100000"))
}

func TestExpressionExamplesRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/step-filters/expression-examples", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var examples map[string]string
	decodeBody(t, rec, &examples)
	assert.Contains(t, examples, "previous_step")
}
