// Package carwings is a client for OpenCARWINGS servers.
//
// It keeps an application's view of a remote vehicle in sync over two
// channels: REST calls for commands and queries, wrapped by an AuthGateway
// that refreshes expired tokens once and replays the call, and a push
// channel (ConnectionManager) streaming alerts and vehicle snapshots.
//
// Example:
//
//	store := carwings.NewMemoryStore(carwings.Credential{})
//	client := carwings.NewClient(store, carwings.WithBaseURL("opencarwings.viaaq.eu"))
//
//	_, _ = client.Login(ctx, &carwings.LoginOptions{Username: "me", Password: "secret"})
//	cars, _ := client.Cars(ctx)
//	car, _ := client.SendCommand(ctx, cars[0].VIN, carwings.CommandRefresh)
//
//	push := carwings.NewConnectionManager()
//	push.Configure(client.PushURL(), store.Credential(), func(ev carwings.Event) { ... })
//	_ = push.Connect()
package carwings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Environment
// ============================================================================

const (
	DefaultBaseURL   = "https://opencarwings.viaaq.eu"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "carwings-go"
)

// FormatBaseURL normalizes a server address: https is assumed when no
// scheme is given and trailing slashes are dropped.
func FormatBaseURL(server string) string {
	s := strings.TrimSpace(server)
	if s == "" {
		return DefaultBaseURL
	}
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// ============================================================================
// Client
// ============================================================================

// Client calls the REST surface. Authenticated calls go through the
// client's AuthGateway.
type Client struct {
	baseURL     string
	locale      string
	userAgent   string
	httpClient  *http.Client
	logger      *zap.Logger
	store       CredentialStore
	gateway     *AuthGateway
	gatewayOpts []GatewayOption
	workers     int
	pool        *Pool
}

type ClientOption func(*Client)

func WithBaseURL(server string) ClientOption {
	return func(c *Client) { c.baseURL = FormatBaseURL(server) }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLocale sets the Accept-Language header.
func WithLocale(tag string) ClientOption {
	return func(c *Client) { c.locale = tag }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithWorkers bounds the number of background REST calls run by Pool.
func WithWorkers(n int) ClientOption {
	return func(c *Client) { c.workers = n }
}

// WithGatewayOptions passes options to the client's AuthGateway.
func WithGatewayOptions(opts ...GatewayOption) ClientOption {
	return func(c *Client) { c.gatewayOpts = append(c.gatewayOpts, opts...) }
}

// NewClient creates a client reading and writing tokens through store.
// A nil store means an empty in-memory store.
func NewClient(store CredentialStore, opts ...ClientOption) *Client {
	if store == nil {
		store = NewMemoryStore(Credential{})
	}
	c := &Client{
		baseURL:   DefaultBaseURL,
		locale:    DefaultLocale,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:  zap.NewNop(),
		store:   store,
		workers: DefaultWorkers,
	}

	for _, opt := range opts {
		opt(c)
	}

	gwOpts := append([]GatewayOption{WithGatewayLogger(c.logger)}, c.gatewayOpts...)
	c.gateway = NewAuthGateway(store, RefreshFunc(c.refresh), gwOpts...)
	c.pool = NewPool(c.workers, c.logger.Named("pool"))
	c.logger = c.logger.Named("api")
	return c
}

// Gateway returns the AuthGateway used by authenticated calls.
func (c *Client) Gateway() *AuthGateway { return c.gateway }

// Pool returns the pool used for background refetches.
func (c *Client) Pool() *Pool { return c.pool }

// Store returns the credential store.
func (c *Client) Store() CredentialStore { return c.store }

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// PushURL returns the push-channel endpoint for this server.
func (c *Client) PushURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws/notif/"
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	return c.send(ctx, method, path, body, c.store.Credential().AccessToken)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, bearer string) ([]byte, error) {
	u := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.locale)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: data}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(bytes.TrimSpace(data)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// call runs one authenticated request through the gateway and decodes the
// response into T.
func call[T any](ctx context.Context, c *Client, method, path string, body interface{}, opts ...ExecOption) (*T, error) {
	return Execute(ctx, c.gateway, func(ctx context.Context) (*T, error) {
		data, err := c.doRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		return decodeJSON[T](data)
	}, opts...)
}

func carPath(vin string, rest ...string) string {
	p := "/api/car/" + url.PathEscape(vin) + "/"
	for _, r := range rest {
		p += url.PathEscape(r) + "/"
	}
	return p
}

// ============================================================================
// Tokens
// ============================================================================

// Login obtains a token pair and stores it.
func (c *Client) Login(ctx context.Context, opts *LoginOptions) (*TokenPair, error) {
	if opts == nil || opts.Username == "" || opts.Password == "" {
		return nil, &Failure{Kind: KindClient, Message: "username and password are required"}
	}
	data, err := c.send(ctx, "POST", "/api/token/obtain/", opts, "")
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return nil, &Failure{Kind: KindClient, Status: http.StatusUnauthorized, Message: "invalid username or password", Err: err}
		}
		return nil, Classify(err)
	}
	pair, err := decodeJSON[TokenPair](data)
	if err != nil {
		return nil, Classify(err)
	}
	if pair.Access == "" {
		return nil, &Failure{Kind: KindGeneric, Message: "server returned no access token"}
	}
	if err := c.store.SetCredential(Credential{AccessToken: pair.Access, RefreshToken: pair.Refresh}); err != nil {
		return nil, Classify(fmt.Errorf("store credentials: %w", err))
	}
	return pair, nil
}

// refresh is the gateway's Refresher. Errors are returned unclassified so
// the gateway can tell a rejected refresh token from an outage.
func (c *Client) refresh(ctx context.Context, cred Credential) (Credential, error) {
	data, err := c.send(ctx, "POST", "/api/token/refresh/", tokenRefreshRequest{
		Refresh: cred.RefreshToken,
		Access:  cred.AccessToken,
	}, cred.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	res, err := decodeJSON[tokenRefreshResponse](data)
	if err != nil {
		return Credential{}, err
	}
	if res.Access == "" {
		return Credential{}, errors.New("refresh returned no access token")
	}
	return Credential{AccessToken: res.Access, RefreshToken: res.Refresh}, nil
}

// SignOut revokes the refresh token and clears the stored credentials. The
// local credentials are cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	cred := c.store.Credential()
	defer func() {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("failed to clear credentials", zap.Error(err))
		}
	}()
	if cred.RefreshToken == "" {
		return nil
	}
	if _, err := c.send(ctx, "POST", "/api/token/signout/", tokenRevokeRequest{Refresh: cred.RefreshToken}, cred.AccessToken); err != nil {
		return Classify(err)
	}
	return nil
}

// UpdateTokenMetadata attaches device metadata (push key, OS, app version)
// to the current refresh token.
func (c *Client) UpdateTokenMetadata(ctx context.Context, meta TokenMetadata) error {
	_, err := Execute(ctx, c.gateway, func(ctx context.Context) (struct{}, error) {
		m := meta
		m.Refresh = c.store.Credential().RefreshToken
		_, err := c.doRequest(ctx, "POST", "/api/token/update/", m)
		return struct{}{}, err
	})
	return err
}

// ============================================================================
// Vehicles
// ============================================================================

// Cars lists the vehicles of the account.
func (c *Client) Cars(ctx context.Context) ([]CarSummary, error) {
	res, err := call[[]CarSummary](ctx, c, "GET", "/api/car/", nil)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

// Car reads the full vehicle record.
func (c *Client) Car(ctx context.Context, vin string) (*Car, error) {
	return call[Car](ctx, c, "GET", carPath(vin), nil)
}

// UpdateCar partially updates the vehicle record. patch is marshaled as-is.
func (c *Client) UpdateCar(ctx context.Context, vin string, patch interface{}) (*Car, error) {
	return call[Car](ctx, c, "PATCH", carPath(vin), patch)
}

// SendCommand asks the server to send cmd to the vehicle's TCU and returns
// the updated record.
func (c *Client) SendCommand(ctx context.Context, vin string, cmd CommandType) (*Car, error) {
	res, err := call[commandResponse](ctx, c, "POST", "/api/command/"+url.PathEscape(vin)+"/", commandRequest{CommandType: cmd})
	if err != nil {
		return nil, err
	}
	return &res.Car, nil
}

// Alerts reads the vehicle's alert history.
func (c *Client) Alerts(ctx context.Context, vin string) ([]Alert, error) {
	res, err := call[[]Alert](ctx, c, "GET", "/api/alerts/"+url.PathEscape(vin)+"/", nil)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

// ============================================================================
// Timers
// ============================================================================

func (c *Client) CreateTimer(ctx context.Context, vin string, t CommandTimer) (*CommandTimer, error) {
	return call[CommandTimer](ctx, c, "POST", carPath(vin, "timers"), t)
}

func (c *Client) UpdateTimer(ctx context.Context, vin string, t CommandTimer) (*CommandTimer, error) {
	if t.ID == nil {
		return nil, &Failure{Kind: KindClient, Message: "timer id is required"}
	}
	return call[CommandTimer](ctx, c, "PATCH", carPath(vin, "timers", fmt.Sprint(*t.ID)), t)
}

func (c *Client) DeleteTimer(ctx context.Context, vin string, id int64) error {
	_, err := call[struct{}](ctx, c, "DELETE", carPath(vin, "timers", fmt.Sprint(id)), nil)
	return err
}

// ============================================================================
// Map links
// ============================================================================

// ResolveMapLink turns a shared map URL into coordinates. Only 401 counts as
// an expired token here; a 403 means the link itself was refused.
func (c *Client) ResolveMapLink(ctx context.Context, link string) (*MapLinkResult, error) {
	return call[MapLinkResult](ctx, c, "POST", "/api/maplink/resolve/", mapLinkRequest{URL: link},
		AuthStatuses(http.StatusUnauthorized))
}
