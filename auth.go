package carwings

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a single token refresh call.
const DefaultRefreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, cred Credential) (Credential, error)

func (f RefreshFunc) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	return f(ctx, cred)
}

// AuthGateway runs authenticated work. When the work fails because the
// access token expired, the gateway refreshes the token once and replays
// the work once. Concurrent failures share a single refresh call.
type AuthGateway struct {
	store     CredentialStore
	refresher Refresher
	logger    *zap.Logger
	timeout   time.Duration
	flight    singleflight.Group

	hookMu      sync.RWMutex
	onRefreshed []func(Credential)
	onLogout    []func()
}

// GatewayOption configures an AuthGateway.
type GatewayOption func(*AuthGateway)

func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *AuthGateway) { g.logger = logger }
}

func WithRefreshTimeout(d time.Duration) GatewayOption {
	return func(g *AuthGateway) { g.timeout = d }
}

// NewAuthGateway creates a gateway reading and writing tokens through store.
func NewAuthGateway(store CredentialStore, refresher Refresher, opts ...GatewayOption) *AuthGateway {
	g := &AuthGateway{
		store:     store,
		refresher: refresher,
		logger:    zap.NewNop(),
		timeout:   DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("auth")
	return g
}

// OnRefreshed registers a handler called after every successful refresh.
// Handlers run on the refreshing goroutine and must not block.
func (g *AuthGateway) OnRefreshed(h func(Credential)) {
	g.hookMu.Lock()
	g.onRefreshed = append(g.onRefreshed, h)
	g.hookMu.Unlock()
}

// OnForcedLogout registers a handler called when the refresh token is
// rejected. It fires once per rejected session.
func (g *AuthGateway) OnForcedLogout(h func()) {
	g.hookMu.Lock()
	g.onLogout = append(g.onLogout, h)
	g.hookMu.Unlock()
}

// ============================================================================
// Execute
// ============================================================================

// DefaultAuthStatuses are the HTTP statuses treated as an expired token.
var DefaultAuthStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}

type execConfig struct {
	authStatuses []int
}

func (c *execConfig) authExpired(err error) bool {
	status := statusOf(err)
	for _, s := range c.authStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ExecOption tunes a single Execute call.
type ExecOption func(*execConfig)

// AuthStatuses overrides the statuses that trigger a refresh for this call.
func AuthStatuses(codes ...int) ExecOption {
	return func(c *execConfig) { c.authStatuses = codes }
}

// Execute runs work through the gateway. Every error returned is a *Failure.
func Execute[T any](ctx context.Context, g *AuthGateway, work func(context.Context) (T, error), opts ...ExecOption) (T, error) {
	var zero T
	cfg := execConfig{authStatuses: DefaultAuthStatuses}
	for _, opt := range opts {
		opt(&cfg)
	}

	used := g.store.Credential().AccessToken
	v, err := work(ctx)
	if err == nil {
		return v, nil
	}
	if !cfg.authExpired(err) {
		return zero, Classify(err)
	}

	g.logger.Debug("access token rejected, refreshing", zap.Int("status", statusOf(err)))
	if err := g.refresh(ctx, used); err != nil {
		return zero, err
	}

	// Replay once; whatever happens now is final.
	v, err = work(ctx)
	if err != nil {
		return zero, Classify(err)
	}
	return v, nil
}

// refresh makes sure the stored access token is newer than stale, sharing
// one in-flight refresh between all callers.
func (g *AuthGateway) refresh(ctx context.Context, stale string) error {
	ch := g.flight.DoChan("refresh", func() (any, error) {
		return nil, g.doRefresh(stale)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return Classify(ctx.Err())
	}
}

func (g *AuthGateway) doRefresh(stale string) error {
	cur := g.store.Credential()
	if cur.Empty() {
		return forcedLogoutFailure(nil)
	}
	if cur.AccessToken != stale {
		// Someone refreshed after our work started.
		return nil
	}
	if cur.RefreshToken == "" {
		return g.forceLogout(nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	next, err := g.refresher.Refresh(ctx, cur)
	if err != nil {
		// Any failed refresh ends the session; the caller must log in again.
		return g.forceLogout(err)
	}
	if next.RefreshToken == "" {
		// Not rotated; only the access token changes.
		next.RefreshToken = cur.RefreshToken
		err = g.store.SetAccessToken(next.AccessToken)
	} else {
		err = g.store.SetCredential(next)
	}
	if err != nil {
		return Fatal(fmt.Errorf("store refreshed token: %w", err))
	}
	g.logger.Debug("access token refreshed")

	g.hookMu.RLock()
	hooks := append([]func(Credential){}, g.onRefreshed...)
	g.hookMu.RUnlock()
	for _, h := range hooks {
		h(next)
	}
	return nil
}

func (g *AuthGateway) forceLogout(cause error) error {
	if err := g.store.Clear(); err != nil {
		g.logger.Error("failed to clear credentials", zap.Error(err))
	}
	g.logger.Error("token refresh failed, session ended", zap.Int("status", statusOf(cause)), zap.Error(cause))

	g.hookMu.RLock()
	hooks := append([]func(){}, g.onLogout...)
	g.hookMu.RUnlock()
	for _, h := range hooks {
		h()
	}
	return forcedLogoutFailure(cause)
}

func forcedLogoutFailure(cause error) *Failure {
	err := ErrForcedLogout
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrForcedLogout, cause)
	}
	return &Failure{
		Kind:    KindClient,
		Status:  http.StatusUnauthorized,
		Message: ErrForcedLogout.Error(),
		Fatal:   true,
		Err:     err,
	}
}
