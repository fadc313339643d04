package municipality

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "12", "value": "Lisboa"},
			{"id": "13", "value": "Loures"},
			{"id": "12", "value": "Duplicate"}
		]`))
	}))
	defer srv.Close()

	table, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	m, ok := table.Lookup("12")
	require.True(t, ok)
	assert.Equal(t, "Lisboa", m.Value)

	_, ok = table.Lookup("99")
	assert.False(t, ok)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetch_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "an array"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	assert.Error(t, err)
}

func TestAreaCode(t *testing.T) {
	tests := []struct {
		stopID   string
		expected string
		ok       bool
	}{
		{"120345", "12", true},
		{"13", "13", true},
		{"9", "", false},
		{"", "", false},
		{"ÁB0042", "ÁB", true},
		{"É", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.stopID, func(t *testing.T) {
			code, ok := AreaCode(tc.stopID)
			assert.Equal(t, tc.expected, code)
			assert.Equal(t, tc.ok, ok)
		})
	}
}
