package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/gvfs/internal/circuit"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

var restIdent = types.FilesetIdent{Metalake: "ml", Catalog: "cat", Schema: "sch", Fileset: "fs"}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRESTClient_LoadFileset(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 0,
			"fileset": map[string]interface{}{
				"name":            "fs",
				"type":            "managed",
				"storageLocation": "oss://bucket/fileset",
				"properties":      map[string]string{"filesystem-provider": "oss"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL + "/", AuthType: AuthSimple, User: "alice"})
	require.NoError(t, err)

	info, err := c.LoadFileset(context.Background(), restIdent)
	require.NoError(t, err)
	assert.Equal(t, "/api/metalakes/ml/catalogs/cat/schemas/sch/filesets/fs", gotPath)
	assert.Equal(t, "Basic YWxpY2U6ZHVtbXk=", gotAuth)
	assert.Equal(t, "oss://bucket/fileset", info.StorageLocation)
	assert.Equal(t, FilesetManaged, info.Type)
	assert.Equal(t, "oss", info.Properties[PropertyProvider])
}

func TestRESTClient_NamedLocations(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 0,
			"fileset": map[string]interface{}{
				"name":             "fs",
				"storageLocations": map[string]string{"primary": "hdfs://nn/a", "backup": "oss://b/a"},
				"properties":       map[string]string{"default-location-name": "primary"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL, AuthType: AuthOAuth2, Token: "tkn"})
	require.NoError(t, err)

	info, err := c.LoadFileset(context.Background(), restIdent)
	require.NoError(t, err)
	assert.Equal(t, "hdfs://nn/a", info.StorageLocation)
}

func TestRESTClient_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   ErrorResponse
		is     func(error) bool
		exists bool
	}{
		{"not found", http.StatusNotFound, ErrorResponse{Code: 1003, Type: "NoSuchFilesetException", Message: "no fileset"}, vfserrors.IsNotFound, false},
		{"no such schema", http.StatusNotFound, ErrorResponse{Code: 1003, Type: "NoSuchSchemaException"}, vfserrors.IsNotFound, false},
		{"unauthorized", http.StatusUnauthorized, ErrorResponse{Code: 1011, Type: "UnauthorizedException"}, vfserrors.IsUnauthorized, false},
		{"forbidden", http.StatusForbidden, ErrorResponse{Code: 1012, Type: "ForbiddenException"}, vfserrors.IsUnauthorized, false},
		{"bad request", http.StatusBadRequest, ErrorResponse{Code: 1001, Type: "IllegalArgumentException"}, vfserrors.IsInvalidPath, false},
		{"server error", http.StatusInternalServerError, ErrorResponse{Code: 1002, Type: "RuntimeException"}, vfserrors.IsServiceUnavailable, false},
		{"throttled", http.StatusTooManyRequests, ErrorResponse{}, vfserrors.IsServiceUnavailable, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL})
			require.NoError(t, err)

			_, err = c.LoadFileset(context.Background(), restIdent)
			require.Error(t, err)
			assert.True(t, tt.is(err), "got %v", err)
			assert.NotContains(t, err.Error(), "resty")

			ok, err := c.FilesetExists(context.Background(), restIdent)
			assert.Equal(t, tt.exists, ok)
			if vfserrors.IsNotFound(err) {
				t.Error("FilesetExists must not report not found as an error")
			}
		})
	}
}

func TestRESTClient_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewRESTClient(RESTConfig{ServerURI: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.LoadFileset(context.Background(), restIdent)
	assert.True(t, vfserrors.IsServiceUnavailable(err), "got %v", err)
}

func TestRESTClient_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.LoadFileset(context.Background(), restIdent)
	assert.True(t, vfserrors.IsServiceUnavailable(err), "got %v", err)
}

func TestRESTClient_Breaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "down"})
	}))
	defer srv.Close()

	breaker := circuit.New("metadata", circuit.Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL, Breaker: breaker})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = c.LoadFileset(context.Background(), restIdent)
		assert.True(t, vfserrors.IsServiceUnavailable(err), "call %d: got %v", i, err)
	}
	assert.EqualValues(t, 2, hits.Load(), "open breaker must stop calls reaching the server")
	assert.Equal(t, circuit.StateOpen, breaker.State())
}

func TestRESTClient_NotFoundDoesNotTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Type: "NoSuchFilesetException"})
	}))
	defer srv.Close()

	breaker := circuit.New("metadata", circuit.Config{FailureThreshold: 1})
	c, err := NewRESTClient(RESTConfig{ServerURI: srv.URL, Breaker: breaker})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.LoadFileset(context.Background(), restIdent)
		assert.True(t, vfserrors.IsNotFound(err))
	}
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func TestNewRESTClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRESTClient(RESTConfig{})
	assert.Error(t, err)
	_, err = NewRESTClient(RESTConfig{ServerURI: "http://x", AuthType: AuthOAuth2})
	assert.Error(t, err)
	_, err = NewRESTClient(RESTConfig{ServerURI: "http://x", AuthType: "kerberos"})
	assert.Error(t, err)
}
