package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

func restConfig(url string, extra map[string]interface{}) map[string]interface{} {
	cfg := map[string]interface{}{"url": url}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

func TestRESTAdapterGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.URL.Query().Get("q"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"hello": "world"})
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"params":  map[string]interface{}{"q": "v"},
			"headers": map[string]interface{}{"X-Custom": "yes"},
		}),
	})

	require.NoError(t, err)
	assert.Equal(t, 200, res.Output["status_code"])
	assert.Equal(t, "success", res.Output["status"])
	data := res.Output["data"].(map[string]interface{})
	assert.Equal(t, "world", data["hello"])
}

func TestRESTAdapterPostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alpha", body["name"])
		w.Write([]byte(`{"created": true}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"method": "post",
			"body":   map[string]interface{}{"name": "alpha"},
		}),
	})

	require.NoError(t, err)
	data := res.Output["data"].(map[string]interface{})
	assert.Equal(t, true, data["created"])
}

func TestRESTAdapterURLInterpolation(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	_, err := a.Execute(context.Background(), Request{
		Config:    restConfig(srv.URL+"/items/{item_id}", nil),
		Variables: map[string]interface{}{"item_id": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, "/items/42", gotPath)
}

func TestRESTAdapterRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"retry": map[string]interface{}{
				"max_retries":   3,
				"delay_seconds": 0.01,
			},
		}),
	})

	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, 200, res.Output["status_code"])
}

func TestRESTAdapterDoesNotRetryNonRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	_, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"retry": map[string]interface{}{"max_retries": 5, "delay_seconds": 0.01},
		}),
	})

	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "404")
}

func TestRESTAdapterExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	_, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"retry": map[string]interface{}{"max_retries": 2, "delay_seconds": 0.01},
		}),
	})

	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRESTAdapterAuthKinds(t *testing.T) {
	var gotAuth, gotAPIKey, gotCustom string
	var gotQueryKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Api-Key")
		gotCustom = r.Header.Get("X-Tenant")
		gotQueryKey = r.URL.Query().Get("api_key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	run := func(auth map[string]interface{}) {
		t.Helper()
		_, err := a.Execute(context.Background(), Request{
			Config: restConfig(srv.URL, map[string]interface{}{"auth": auth}),
		})
		require.NoError(t, err)
	}

	run(map[string]interface{}{"type": "api_key", "key_name": "X-Api-Key", "key_value": "k1"})
	assert.Equal(t, "k1", gotAPIKey)

	run(map[string]interface{}{"type": "api_key", "key_name": "api_key", "key_value": "k2", "in": "query"})
	assert.Equal(t, "k2", gotQueryKey)

	run(map[string]interface{}{"type": "basic", "username": "u", "password": "p"})
	assert.Contains(t, gotAuth, "Basic ")

	run(map[string]interface{}{"type": "jwt", "token": "tok123"})
	assert.Equal(t, "Bearer tok123", gotAuth)

	run(map[string]interface{}{"type": "oauth", "token": "tok456"})
	assert.Equal(t, "Bearer tok456", gotAuth)

	run(map[string]interface{}{"type": "custom", "header_name": "X-Tenant", "header_value": "acme"})
	assert.Equal(t, "acme", gotCustom)

	_, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"auth": map[string]interface{}{"type": "wat"},
		}),
	})
	assert.Error(t, err)
}

func TestRESTAdapterCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"n": 1}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	cfg := restConfig(srv.URL, map[string]interface{}{
		"cache": map[string]interface{}{"enabled": true, "ttl_seconds": 60},
	})

	for i := 0; i < 3; i++ {
		res, err := a.Execute(context.Background(), Request{Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, "success", res.Output["status"])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRESTAdapterResponseExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"user": {"id": 7, "name": "kim"}, "extra": true}}`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: restConfig(srv.URL, map[string]interface{}{
			"response": map[string]interface{}{
				"extract": "result.user",
				"map":     map[string]interface{}{"user_id": "id"},
			},
		}),
	})

	require.NoError(t, err)
	data := res.Output["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["user_id"])
	assert.NotContains(t, data, "name")
}

func TestRESTAdapterRejectsBadMethod(t *testing.T) {
	a := NewRESTAdapter(logging.NewLogger())
	_, err := a.Execute(context.Background(), Request{
		Config: restConfig("http://example.com", map[string]interface{}{"method": "TRACE"}),
	})
	assert.Error(t, err)
}
