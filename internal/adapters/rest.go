package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// defaultRetryableStatus lists the HTTP status codes retried when the step's
// retry policy does not name its own set.
var defaultRetryableStatus = []int{429, 500, 502, 503}

// RESTAdapter performs HTTP calls for API_CALL steps. It supports api-key,
// basic, jwt and custom-header auth, its own status-code driven retry policy,
// an optional per-step TTL response cache, and response extraction.
type RESTAdapter struct {
	client *http.Client
	log    *logging.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	output  map[string]interface{}
	expires time.Time
}

func NewRESTAdapter(log *logging.Logger) *RESTAdapter {
	return &RESTAdapter{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
		cache:  make(map[string]cacheEntry),
	}
}

func (a *RESTAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	rawURL, _ := req.Config["url"].(string)
	if rawURL == "" {
		return Result{}, fmt.Errorf("api step requires a url")
	}
	rawURL = interpolate(rawURL, req.Variables)

	method := "GET"
	if m, ok := req.Config["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return Result{}, fmt.Errorf("unsupported HTTP method %q", method)
	}

	params := toStringMap(req.Config["params"])
	headers := toStringMap(req.Config["headers"])
	body := req.Config["body"]
	if s, ok := body.(string); ok {
		body = interpolate(s, req.Variables)
	}

	cacheTTL := cachePolicy(req.Config)
	cacheKey := ""
	if cacheTTL > 0 && method == http.MethodGet {
		cacheKey = a.cacheKey(method, rawURL, params)
		if out, ok := a.cached(cacheKey); ok {
			a.log.Debug("api response served from cache", "url", rawURL)
			return Result{Output: out}, nil
		}
	}

	maxRetries, delay, multiplier, retryable := retryPolicy(req.Config)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{}, ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * multiplier)
		}

		output, retry, err := a.do(ctx, method, rawURL, params, headers, body, req.Config)
		if err == nil {
			if cacheKey != "" {
				a.store(cacheKey, output, cacheTTL)
			}
			return Result{Output: output}, nil
		}
		lastErr = err
		if !retry || !statusRetryable(err, retryable) {
			return Result{}, err
		}
		a.log.Warn("api call failed, will retry", "url", rawURL, "attempt", attempt, "error", err)
	}
	return Result{}, lastErr
}

// httpStatusError signals a non-2xx response. It carries the code so the
// retry loop can consult the retryable set.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.code, truncate(e.body, 200))
}

func (a *RESTAdapter) do(ctx context.Context, method, rawURL string, params, headers map[string]string, body interface{}, config map[string]interface{}) (map[string]interface{}, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}

	var reqBody io.Reader
	if method != http.MethodGet && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, false, fmt.Errorf("encode body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	if err := applyAuth(config, headers, q); err != nil {
		return nil, false, err
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, false, err
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Network errors are always retryable.
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, true, &httpStatusError{code: resp.StatusCode, body: string(raw)}
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}
	data = extractResponse(config, data)

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return map[string]interface{}{
		"data":        data,
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"status":      "success",
	}, false, nil
}

// applyAuth decorates the request per the step's auth descriptor.
func applyAuth(config map[string]interface{}, headers map[string]string, query url.Values) error {
	auth, ok := config["auth"].(map[string]interface{})
	if !ok {
		return nil
	}
	authType, _ := auth["type"].(string)
	switch authType {
	case "", "none":
		return nil
	case "api_key":
		name, _ := auth["key_name"].(string)
		value, _ := auth["key_value"].(string)
		if name == "" || value == "" {
			return fmt.Errorf("api_key auth requires key_name and key_value")
		}
		if in, _ := auth["in"].(string); in == "query" {
			query.Set(name, value)
		} else {
			headers[name] = value
		}
	case "basic":
		user, _ := auth["username"].(string)
		pass, _ := auth["password"].(string)
		if user == "" {
			return fmt.Errorf("basic auth requires username")
		}
		headers["Authorization"] = "Basic " + basicAuth(user, pass)
	case "jwt", "oauth", "bearer":
		token, _ := auth["token"].(string)
		if token == "" {
			return fmt.Errorf("%s auth requires token", authType)
		}
		headers["Authorization"] = "Bearer " + token
	case "custom":
		name, _ := auth["header_name"].(string)
		value, _ := auth["header_value"].(string)
		if name == "" {
			return fmt.Errorf("custom auth requires header_name")
		}
		headers[name] = value
	default:
		return fmt.Errorf("unknown auth type %q", authType)
	}
	return nil
}

func basicAuth(user, pass string) string {
	req := http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

// retryPolicy reads the step's retry block, falling back to a single attempt.
func retryPolicy(config map[string]interface{}) (maxRetries int, delay time.Duration, multiplier float64, retryable []int) {
	delay = time.Second
	multiplier = 2.0
	retryable = defaultRetryableStatus

	retry, ok := config["retry"].(map[string]interface{})
	if !ok {
		return 0, delay, multiplier, retryable
	}
	maxRetries = intValue(retry["max_retries"], 0)
	if d := floatValue(retry["delay_seconds"], 1); d > 0 {
		delay = time.Duration(d * float64(time.Second))
	}
	if m := floatValue(retry["backoff_multiplier"], 2); m > 0 {
		multiplier = m
	}
	if codes, ok := retry["retryable_status_codes"].([]interface{}); ok {
		retryable = nil
		for _, c := range codes {
			retryable = append(retryable, intValue(c, 0))
		}
	}
	return maxRetries, delay, multiplier, retryable
}

func cachePolicy(config map[string]interface{}) time.Duration {
	cache, ok := config["cache"].(map[string]interface{})
	if !ok {
		return 0
	}
	if enabled, _ := cache["enabled"].(bool); !enabled {
		return 0
	}
	ttl := floatValue(cache["ttl_seconds"], 60)
	return time.Duration(ttl * float64(time.Second))
}

// extractResponse applies the optional response extraction path or field map.
func extractResponse(config map[string]interface{}, data interface{}) interface{} {
	response, ok := config["response"].(map[string]interface{})
	if !ok {
		return data
	}
	if path, _ := response["extract"].(string); path != "" {
		if v, ok := descend(data, path); ok {
			data = v
		}
	}
	if mapping, ok := response["map"].(map[string]interface{}); ok && len(mapping) > 0 {
		mapped := make(map[string]interface{}, len(mapping))
		for out, src := range mapping {
			path, _ := src.(string)
			if v, ok := descend(data, path); ok {
				mapped[out] = v
			}
		}
		return mapped
	}
	return data
}

func descend(data interface{}, path string) (interface{}, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, exists := m[part]
		if !exists {
			return nil, false
		}
		current = v
	}
	return current, true
}

func statusRetryable(err error, retryable []int) bool {
	se, ok := err.(*httpStatusError)
	if !ok {
		return true // network error
	}
	for _, c := range retryable {
		if c == se.code {
			return true
		}
	}
	return false
}

func (a *RESTAdapter) cacheKey(method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte(' ')
	sb.WriteString(rawURL)
	for _, k := range keys {
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}

func (a *RESTAdapter) cached(key string) (map[string]interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok || time.Now().After(e.expires) {
		delete(a.cache, key)
		return nil, false
	}
	return e.output, true
}

func (a *RESTAdapter) store(key string, output map[string]interface{}, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{output: output, expires: time.Now().Add(ttl)}
}

func toStringMap(v interface{}) map[string]string {
	out := make(map[string]string)
	if m, ok := v.(map[string]interface{}); ok {
		for k, val := range m {
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func intValue(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}

func floatValue(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
