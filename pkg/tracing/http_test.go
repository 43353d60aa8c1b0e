package tracing

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracedSkipsOperationalRoutes(t *testing.T) {
	tests := map[string]bool{
		"/api/v1/step-filters":          true,
		"/api/v1/step-filters/evaluate": true,
		"/health":                       false,
		"/metrics":                      false,
		"/swagger/index.html":           false,
	}
	for path, want := range tests {
		assert.Equal(t, want, traced(httptest.NewRequest("GET", path, nil)), path)
	}
}
