package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/autarcostatus/pkg/common"
	"github.com/raterudder/autarcostatus/pkg/log"
	"github.com/raterudder/autarcostatus/pkg/types"
)

const (
	// DefaultAutarcoBaseURL is the base URL of the My Autarco site.
	DefaultAutarcoBaseURL = "https://my.autarco.com"

	autarcoLoginPath   = "auth/login"
	maxResponseBodyLen = 1 << 20
)

// Autarco implements Client for the My Autarco API. Every session gets its own
// cookie-bearing http.Client.
type Autarco struct {
	baseURL string
	siteID  string
	timeout time.Duration
}

// NewAutarco returns a client for the given site.
func NewAutarco(baseURL, siteID string, timeout time.Duration) *Autarco {
	if baseURL == "" {
		baseURL = DefaultAutarcoBaseURL
	}
	return &Autarco{
		baseURL: baseURL,
		siteID:  siteID,
		timeout: timeout,
	}
}

type autarcoSession struct {
	owner  *Autarco
	client *http.Client

	mu     sync.Mutex
	closed bool
}

// Close drops the session's idle connections and makes it unusable.
func (s *autarcoSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func (s *autarcoSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Authenticate logs in with the account credentials. The returned session
// carries the session cookie set by the login response.
func (a *Autarco) Authenticate(ctx context.Context, creds types.Credentials) (Session, error) {
	if creds.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrUnauthorized)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("%w: missing password", ErrUnauthorized)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	sess := &autarcoSession{
		owner:  a,
		client: common.HTTPClient(a.timeout, jar),
	}

	data := url.Values{}
	data.Set("username", creds.Username)
	data.Set("password", creds.Password)

	req, err := a.newPostFormRequest(ctx, autarcoLoginPath, data)
	if err != nil {
		return nil, err
	}

	if err := a.doRequest(sess.client, req, nil); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "autarco login failed", slog.Any("error", err))
		return nil, fmt.Errorf("login failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "autarco login success", slog.String("username", creds.Username))

	return sess, nil
}

// autarcoKPIs is the result of the kpis endpoints. Only the field that
// belongs to the requested endpoint is set.
type autarcoKPIs struct {
	PVNow    *json.Number `json:"pv_now"`
	PVToDate *json.Number `json:"pv_to_date"`
}

// Fetch returns the current value of metric for the configured site.
func (a *Autarco) Fetch(ctx context.Context, sess Session, metric types.Metric) (uint32, error) {
	s, ok := sess.(*autarcoSession)
	if !ok || s.owner != a {
		return 0, fmt.Errorf("%w: session does not belong to this client", ErrUnauthorized)
	}
	if s.isClosed() {
		return 0, fmt.Errorf("%w: session closed", ErrUnauthorized)
	}

	var field func(autarcoKPIs) *json.Number
	switch metric {
	case types.MetricPower:
		field = func(k autarcoKPIs) *json.Number { return k.PVNow }
	case types.MetricEnergy:
		field = func(k autarcoKPIs) *json.Number { return k.PVToDate }
	default:
		return 0, fmt.Errorf("unknown metric: %s", metric)
	}

	req, err := a.newGetRequest(ctx, fmt.Sprintf("api/site/%s/kpis/%s", a.siteID, metric), nil)
	if err != nil {
		return 0, err
	}

	var res autarcoKPIs
	if err := a.doRequest(s.client, req, &res); err != nil {
		return 0, fmt.Errorf("fetch %s failed: %w", metric, err)
	}

	n := field(res)
	if n == nil {
		return 0, fmt.Errorf("fetch %s failed: %w: missing value", metric, ErrMalformed)
	}
	v, err := parseTelemetryValue(*n)
	if err != nil {
		return 0, fmt.Errorf("fetch %s failed: %w", metric, err)
	}

	log.Ctx(ctx).DebugContext(ctx, "autarco kpi", slog.String("metric", string(metric)), slog.Any("value", v))
	return v, nil
}

// parseTelemetryValue accepts any non-negative number that fits in a uint32.
// Fractions are truncated since only whole units are tracked.
func parseTelemetryValue(n json.Number) (uint32, error) {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrMalformed, string(n))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxUint32 {
		return 0, fmt.Errorf("%w: value out of range: %s", ErrMalformed, string(n))
	}
	return uint32(math.Trunc(f)), nil
}

func (a *Autarco) endpointURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (a *Autarco) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := a.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (a *Autarco) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := a.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doRequest sends req and decodes a JSON body into dest when dest is not nil.
// Returned errors always wrap one of the package sentinels.
func (a *Autarco) doRequest(client *http.Client, req *http.Request, dest interface{}) error {
	ctx := req.Context()
	isLogin := strings.HasSuffix(req.URL.Path, autarcoLoginPath)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Ctx(ctx).DebugContext(ctx, "autarco rejected session", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}

	// an expired session gets redirected to the login form
	if !isLogin && resp.Request != nil && strings.HasSuffix(resp.Request.URL.Path, autarcoLoginPath) {
		log.Ctx(ctx).DebugContext(ctx, "autarco redirected to login")
		return fmt.Errorf("%w: redirected to login", ErrUnauthorized)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLen))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	if dest == nil {
		log.Ctx(ctx).DebugContext(ctx, "autarco request success (no destination)", slog.String("url", req.URL.String()))
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode autarco response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
