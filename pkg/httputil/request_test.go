package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{"valid JSON", `{"username": "alice"}`, false},
		{"invalid JSON", `{invalid}`, true},
		{"empty body", ``, true},
		{"too large", `{"username": "` + strings.Repeat("a", MaxJSONBodyBytes) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "alice", dest["username"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`nope`))

	var dest map[string]string
	assert.False(t, ParseJSONOrError(rr, req, &dest))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rr.Body.String())
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/accounts/alice", nil)
	req = mux.SetURLVars(req, map[string]string{"username": "alice"})

	val, err := ParsePathString(req, "username")
	assert.NoError(t, err)
	assert.Equal(t, "alice", val)

	rr := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(rr, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequireNonEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(rr, "x", "username"))

	rr = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(rr, "", "username"))
	assert.JSONEq(t, `{"error":"username is required"}`, rr.Body.String())
}
