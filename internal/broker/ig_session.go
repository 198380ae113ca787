package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
)

const (
	igDemoURL = "https://demo-api.ig.com/gateway/deal"
	igLiveURL = "https://api.ig.com/gateway/deal"

	// Tokens live ~6 hours; refresh proactively 30 minutes early
	igTokenLifetime = 6 * time.Hour
	igRefreshBefore = 30 * time.Minute
)

// IGSession owns the CST/X-SECURITY-TOKEN lifecycle for the IG REST API:
// login, proactive refresh before expiry, and one re-authentication on 401.
type IGSession struct {
	apiKey    string
	username  string
	password  string
	accountID string
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger

	mu            sync.Mutex
	cst           string
	securityToken string
	obtainedAt    time.Time
}

// NewIGSession creates an unauthenticated session; login happens lazily
// on the first request
func NewIGSession(cfg config.BrokerConfig) *IGSession {
	base := igLiveURL
	if cfg.Sandbox {
		base = igDemoURL
	}
	return &IGSession{
		apiKey:    cfg.APIKey,
		username:  cfg.Username,
		password:  cfg.Password,
		accountID: cfg.AccountID,
		baseURL:   base,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    config.NewLogger("broker.ig.session"),
	}
}

// AccountID returns the configured IG account id
func (s *IGSession) AccountID() string { return s.accountID }

// login POSTs /session to obtain CST and X-SECURITY-TOKEN headers.
// Caller must hold s.mu.
func (s *IGSession) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"identifier": s.username,
		"password":   s.password,
	})
	if err != nil {
		return Permanent("ig.login", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/session", bytes.NewReader(payload))
	if err != nil {
		return Permanent("ig.login", err)
	}
	req.Header.Set("X-IG-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json; charset=UTF-8")
	req.Header.Set("Version", "2")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient("ig.login", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return ClassifyHTTPStatus("ig.login", resp.StatusCode, string(body))
	}

	s.cst = resp.Header.Get("CST")
	s.securityToken = resp.Header.Get("X-SECURITY-TOKEN")
	s.obtainedAt = time.Now()

	var data map[string]any
	_ = json.Unmarshal(body, &data)
	s.logger.Info().Str("account", str(data["currentAccountId"])).Msg("IG session established")
	return nil
}

// tokenExpired reports whether the token is missing or close to expiry.
// Caller must hold s.mu.
func (s *IGSession) tokenExpired() bool {
	if s.cst == "" {
		return true
	}
	return time.Since(s.obtainedAt) >= igTokenLifetime-igRefreshBefore
}

func (s *IGSession) ensureAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenExpired() {
		return s.login(ctx)
	}
	return nil
}

func (s *IGSession) authHeaders(version string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := http.Header{}
	h.Set("X-IG-API-KEY", s.apiKey)
	h.Set("CST", s.cst)
	h.Set("X-SECURITY-TOKEN", s.securityToken)
	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("Accept", "application/json; charset=UTF-8")
	h.Set("Version", version)
	return h
}

// Request makes an authenticated call, re-authenticating once on 401
func (s *IGSession) Request(ctx context.Context, method, path, version string, params url.Values, body any) (map[string]any, error) {
	op := "ig." + method + path

	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	status, raw, err := s.do(ctx, method, path, version, params, body)
	if err != nil {
		return nil, Transient(op, err)
	}

	if status == http.StatusUnauthorized {
		s.logger.Warn().Msg("IG 401, re-authenticating")
		s.mu.Lock()
		loginErr := s.login(ctx)
		s.mu.Unlock()
		if loginErr != nil {
			return nil, loginErr
		}
		status, raw, err = s.do(ctx, method, path, version, params, body)
		if err != nil {
			return nil, Transient(op, err)
		}
	}

	if status >= 400 {
		return nil, ClassifyHTTPStatus(op, status, string(raw))
	}

	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, Permanent(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return out, nil
}

func (s *IGSession) do(ctx context.Context, method, path, version string, params url.Values, body any) (int, []byte, error) {
	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header = s.authHeaders(version)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

// Close releases the underlying HTTP client
func (s *IGSession) Close() {
	s.client.CloseIdleConnections()
}
