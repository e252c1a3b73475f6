package carwings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ============================================================================
// Test Helpers
// ============================================================================

type countingRefresher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, cred Credential) (Credential, error)
}

func (r *countingRefresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	r.calls.Add(1)
	return r.fn(ctx, cred)
}

func newTestGateway(t *testing.T, store CredentialStore, fn func(ctx context.Context, cred Credential) (Credential, error)) (*AuthGateway, *countingRefresher) {
	r := &countingRefresher{fn: fn}
	g := NewAuthGateway(store, r, WithGatewayLogger(zaptest.NewLogger(t)), WithRefreshTimeout(5*time.Second))
	return g, r
}

// tokenWork succeeds only when the store holds the wanted access token.
func tokenWork(store CredentialStore, want string, status int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if store.Credential().AccessToken == want {
			return "ok", nil
		}
		return "", &StatusError{Status: status}
	}
}

// writeRecorder records which store method persisted a refresh.
type writeRecorder struct {
	*MemoryStore
	mu     sync.Mutex
	writes []string
}

func (s *writeRecorder) SetCredential(c Credential) error {
	s.mu.Lock()
	s.writes = append(s.writes, "credential")
	s.mu.Unlock()
	return s.MemoryStore.SetCredential(c)
}

func (s *writeRecorder) SetAccessToken(token string) error {
	s.mu.Lock()
	s.writes = append(s.writes, "access")
	s.mu.Unlock()
	return s.MemoryStore.SetAccessToken(token)
}

// ============================================================================
// Execute
// ============================================================================

func TestExecuteSuccess(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, nil)

	v, err := Execute(context.Background(), g, tokenWork(store, "a1", 401))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestExecuteRefreshAndReplay(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		assert.Equal(t, "r1", cred.RefreshToken)
		return Credential{AccessToken: "a2"}, nil
	})

	var refreshed []Credential
	g.OnRefreshed(func(c Credential) { refreshed = append(refreshed, c) })

	for _, status := range []int{401, 403} {
		require.NoError(t, store.SetCredential(Credential{AccessToken: "a1", RefreshToken: "r1"}))
		v, err := Execute(context.Background(), g, tokenWork(store, "a2", status))
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, "ok", v)
	}
	assert.Equal(t, int32(2), r.calls.Load())
	// The refresh token is kept when the server does not rotate it.
	assert.Equal(t, Credential{AccessToken: "a2", RefreshToken: "r1"}, store.Credential())
	require.Len(t, refreshed, 2)
	assert.Equal(t, "a2", refreshed[0].AccessToken)
}

func TestExecuteReplaysOnce(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		return Credential{AccessToken: "a2", RefreshToken: "r2"}, nil
	})

	var calls int
	_, err := Execute(context.Background(), g, func(ctx context.Context) (int, error) {
		calls++
		return 0, &StatusError{Status: 401}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(1), r.calls.Load())

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindClient, f.Kind)
	assert.Equal(t, "Client error 401", f.Message)
	assert.False(t, f.Fatal)
	assert.Equal(t, Credential{AccessToken: "a2", RefreshToken: "r2"}, store.Credential())
}

func TestExecuteNonAuthFailure(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, nil)

	t.Run("server error", func(t *testing.T) {
		calls := 0
		_, err := Execute(context.Background(), g, func(ctx context.Context) (int, error) {
			calls++
			return 0, &StatusError{Status: 500}
		})
		require.Error(t, err)
		assert.Equal(t, "Server error 500", err.Error())
		assert.Equal(t, 1, calls)
		assert.True(t, Classify(err).Recoverable())
	})

	t.Run("403 outside auth statuses", func(t *testing.T) {
		_, err := Execute(context.Background(), g, func(ctx context.Context) (int, error) {
			return 0, &StatusError{Status: 403}
		}, AuthStatuses(401))
		require.Error(t, err)
		assert.Equal(t, "Client error 403", err.Error())
	})

	t.Run("transport error", func(t *testing.T) {
		_, err := Execute(context.Background(), g, func(ctx context.Context) (int, error) {
			return 0, errors.New("connection reset")
		})
		var f *Failure
		require.True(t, errors.As(err, &f))
		assert.Equal(t, KindGeneric, f.Kind)
	})

	assert.Equal(t, int32(0), r.calls.Load())
}

func TestExecuteConcurrentSingleRefresh(t *testing.T) {
	const workers = 5
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		time.Sleep(20 * time.Millisecond)
		return Credential{AccessToken: "a2"}, nil
	})

	// Every worker sees its 401 before any refresh can finish.
	var failed sync.WaitGroup
	failed.Add(workers)
	work := func(ctx context.Context) (string, error) {
		if store.Credential().AccessToken == "a2" {
			return "ok", nil
		}
		failed.Done()
		failed.Wait()
		return "", &StatusError{Status: 401}
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Execute(context.Background(), g, work)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestExecuteRefreshRejected(t *testing.T) {
	const workers = 5
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		time.Sleep(20 * time.Millisecond)
		return Credential{}, &StatusError{Status: 401}
	})

	var logouts atomic.Int32
	g.OnForcedLogout(func() { logouts.Add(1) })

	var failed sync.WaitGroup
	failed.Add(workers)
	var once sync.Map
	work := func(ctx context.Context) (string, error) {
		return "", &StatusError{Status: 401}
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Execute(context.Background(), g, func(ctx context.Context) (string, error) {
				if _, seen := once.LoadOrStore(i, true); !seen {
					failed.Done()
					failed.Wait()
				}
				return work(ctx)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "worker %d", i)
		assert.True(t, errors.Is(err, ErrForcedLogout), "worker %d: %v", i, err)
		assert.True(t, IsFatal(err))
	}
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(1), logouts.Load())
	assert.True(t, store.Credential().Empty())

	// Later calls fail without another refresh or logout.
	_, err := Execute(context.Background(), g, work)
	assert.True(t, errors.Is(err, ErrForcedLogout))
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(1), logouts.Load())
}

func TestExecuteRefreshFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	cause := errors.New("dial tcp: no route to host")
	g, _ := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		return Credential{}, cause
	})
	var logouts int
	g.OnForcedLogout(func() { logouts++ })

	_, err := Execute(context.Background(), g, tokenWork(store, "never", 401))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForcedLogout))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 1, logouts)
	assert.True(t, store.Credential().Empty())
}

func TestExecuteMissingRefreshToken(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1"})
	g, r := newTestGateway(t, store, nil)
	var logouts int
	g.OnForcedLogout(func() { logouts++ })

	_, err := Execute(context.Background(), g, tokenWork(store, "never", 401))
	assert.True(t, errors.Is(err, ErrForcedLogout))
	assert.Equal(t, 1, logouts)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestExecuteLateFailureSkipsRefresh(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	g, r := newTestGateway(t, store, nil)

	// The token changed while the work was running.
	_, err := Execute(context.Background(), g, func(ctx context.Context) (string, error) {
		if store.Credential().AccessToken == "a1" {
			require.NoError(t, store.SetAccessToken("a2"))
			return "", &StatusError{Status: 401}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestExecuteCallerCanceledDuringRefresh(t *testing.T) {
	store := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	release := make(chan struct{})
	done := make(chan struct{})
	g, _ := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
		defer close(done)
		<-release
		return Credential{AccessToken: "a2"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, g, tokenWork(store, "a2", 401))
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	// The shared refresh still completes for everyone else.
	close(release)
	<-done
	require.Eventually(t, func() bool { return store.Credential().AccessToken == "a2" }, time.Second, 5*time.Millisecond)
}

func TestRefreshStoreWrites(t *testing.T) {
	t.Run("access token only", func(t *testing.T) {
		store := &writeRecorder{MemoryStore: NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})}
		g, _ := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
			return Credential{AccessToken: "a2"}, nil
		})
		_, err := Execute(context.Background(), g, tokenWork(store, "a2", 401))
		require.NoError(t, err)
		assert.Equal(t, []string{"access"}, store.writes)
		assert.Equal(t, Credential{AccessToken: "a2", RefreshToken: "r1"}, store.Credential())
	})

	t.Run("rotated refresh token", func(t *testing.T) {
		store := &writeRecorder{MemoryStore: NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})}
		g, _ := newTestGateway(t, store, func(ctx context.Context, cred Credential) (Credential, error) {
			return Credential{AccessToken: "a2", RefreshToken: "r2"}, nil
		})
		_, err := Execute(context.Background(), g, tokenWork(store, "a2", 401))
		require.NoError(t, err)
		assert.Equal(t, []string{"credential"}, store.writes)
		assert.Equal(t, Credential{AccessToken: "a2", RefreshToken: "r2"}, store.Credential())
	})
}
