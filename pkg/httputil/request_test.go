package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name      string
		vars      map[string]string
		want      int64
		expectErr bool
	}{
		{name: "valid", vars: map[string]string{"orgID": "1234567890123"}, want: 1234567890123},
		{name: "missing", vars: map[string]string{}, expectErr: true},
		{name: "not a number", vars: map[string]string{"orgID": "acme"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), tt.vars)

			got, err := ParsePathInt64(r, "orgID")
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"userID": "x"})

	_, ok := ParsePathInt64OrError(w, r, "userID")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid integer for userID")
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?size=25&bad=x", nil)

	size, err := ParseQueryInt(r, "size", 20)
	require.NoError(t, err)
	assert.Equal(t, 25, size)

	size, err = ParseQueryInt(r, "missing", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, size)

	_, err = ParseQueryInt(r, "bad", 20)
	assert.Error(t, err)
}

func TestParseQueryCursor(t *testing.T) {
	cursor, err := ParseQueryCursor(httptest.NewRequest(http.MethodGet, "/", nil), "cursor")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	cursor, err = ParseQueryCursor(httptest.NewRequest(http.MethodGet, "/?cursor=42", nil), "cursor")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, int64(42), *cursor)

	_, err = ParseQueryCursor(httptest.NewRequest(http.MethodGet, "/?cursor=abc", nil), "cursor")
	assert.Error(t, err)
}
