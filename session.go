package carwings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Snapshot is the application's view of the selected vehicle.
type Snapshot struct {
	Cars   []CarSummary
	Car    Car
	Alerts []Alert
}

func (s Snapshot) clone() Snapshot {
	s.Cars = append([]CarSummary(nil), s.Cars...)
	s.Alerts = append([]Alert(nil), s.Alerts...)
	return s
}

// EventSink receives everything a Session produces. Calls are made from
// the session's goroutines and must not block for long.
type EventSink interface {
	// Event forwards a push-channel event, in arrival order.
	Event(Event)
	// Snapshot delivers the vehicle view after a fetch or an update.
	Snapshot(Snapshot)
	// Failure reports a failed operation.
	Failure(*Failure)
	// ForcedLogout is called once when the session ended on the server.
	ForcedLogout()
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithConnectionManager replaces the push channel used by the session.
func WithConnectionManager(m *ConnectionManager) SessionOption {
	return func(s *Session) { s.push = m }
}

// WithVIN preselects a vehicle. It falls back to the first vehicle of the
// account when the VIN is not listed.
func WithVIN(vin string) SessionOption {
	return func(s *Session) { s.vin = vin }
}

// Session ties the REST client and the push channel together for one
// logged-in user and one selected vehicle. Create one session per Client.
type Session struct {
	client *Client
	push   *ConnectionManager
	sink   EventSink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	vin  string
	snap Snapshot
}

// NewSession creates a session. Nothing is fetched until Start.
func NewSession(client *Client, sink EventSink, opts ...SessionOption) *Session {
	s := &Session{
		client: client,
		sink:   sink,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.push == nil {
		s.push = NewConnectionManager(WithManagerLogger(s.logger), WithLocaleTag(client.locale))
	}
	s.logger = s.logger.Named("session")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	client.Gateway().OnRefreshed(func(c Credential) {
		s.push.Configure(client.PushURL(), c, nil)
	})
	client.Gateway().OnForcedLogout(s.forcedLogout)
	return s
}

// Push returns the session's push channel.
func (s *Session) Push() *ConnectionManager { return s.push }

// VIN returns the selected vehicle.
func (s *Session) VIN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vin
}

// Snapshot returns a copy of the current vehicle view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Start loads the vehicle list and the selected vehicle, then opens the
// push channel. Failures here are fatal.
func (s *Session) Start(ctx context.Context) error {
	cars, err := s.client.Cars(ctx)
	if err != nil {
		return s.report(Fatal(err))
	}

	vin := pickVIN(cars, s.VIN())
	if vin == "" {
		return s.report(Fatal(ErrNoVehicle))
	}

	snap, err := s.load(ctx, vin)
	if err != nil {
		return s.report(Fatal(err))
	}
	snap.Cars = cars

	s.mu.Lock()
	s.vin = vin
	s.snap = snap
	s.mu.Unlock()
	s.logger.Debug("session started", zap.String("vin", vin), zap.Int("cars", len(cars)))
	s.sink.Snapshot(snap.clone())

	s.push.Configure(s.client.PushURL(), s.client.Store().Credential(), s.handle)
	return s.push.Connect()
}

func pickVIN(cars []CarSummary, want string) string {
	for _, c := range cars {
		if want != "" && c.VIN == want {
			return c.VIN
		}
	}
	if len(cars) == 0 {
		return ""
	}
	return cars[0].VIN
}

// load fetches the vehicle record and its alerts concurrently.
func (s *Session) load(ctx context.Context, vin string) (Snapshot, error) {
	var (
		car    *Car
		alerts []Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.client.Car(gctx, vin)
		car = c
		return err
	})
	g.Go(func() error {
		a, err := s.client.Alerts(gctx, vin)
		alerts = a
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Car: *car, Alerts: alerts}, nil
}

// handle is the push-channel subscriber.
func (s *Session) handle(ev Event) {
	switch ev := ev.(type) {
	case Connected:
		if !ev.Silent {
			// The outage was visible; anything may have changed meanwhile.
			s.client.Pool().Go(s.ctx, func(ctx context.Context) {
				_ = s.Refresh(ctx)
			})
		}
	case VehicleUpdated:
		s.mu.Lock()
		if ev.Car.VIN == s.vin {
			s.snap.Car = ev.Car
		}
		s.mu.Unlock()
	case AlertReceived:
		s.mu.Lock()
		s.snap.Alerts = append([]Alert{ev.Alert}, s.snap.Alerts...)
		s.mu.Unlock()
	}
	s.sink.Event(ev)
}

// Refresh re-reads the selected vehicle and its alerts.
func (s *Session) Refresh(ctx context.Context) error {
	vin := s.VIN()
	if vin == "" {
		return s.report(Fatal(ErrNoVehicle))
	}
	snap, err := s.load(ctx, vin)
	if err != nil {
		return s.report(err)
	}
	s.mu.Lock()
	if s.vin != vin {
		// Switched meanwhile.
		s.mu.Unlock()
		return nil
	}
	s.snap.Car = snap.Car
	s.snap.Alerts = snap.Alerts
	out := s.snap.clone()
	s.mu.Unlock()

	s.sink.Snapshot(out)
	return nil
}

// SendCommand sends cmd to the selected vehicle and publishes the updated
// record.
func (s *Session) SendCommand(ctx context.Context, cmd CommandType) (*Car, error) {
	vin := s.VIN()
	if vin == "" {
		return nil, s.report(Fatal(ErrNoVehicle))
	}
	car, err := s.client.SendCommand(ctx, vin, cmd)
	if err != nil {
		return nil, s.report(err)
	}
	s.mu.Lock()
	if s.vin == vin {
		s.snap.Car = *car
	}
	out := s.snap.clone()
	s.mu.Unlock()

	s.logger.Debug("command sent", zap.String("vin", vin), zap.Int("command", int(cmd)))
	s.sink.Snapshot(out)
	return car, nil
}

// SwitchCar selects another vehicle of the account and loads it.
func (s *Session) SwitchCar(ctx context.Context, vin string) error {
	s.mu.Lock()
	known := false
	for _, c := range s.snap.Cars {
		if c.VIN == vin {
			known = true
			break
		}
	}
	s.mu.Unlock()
	if !known {
		return s.report(&Failure{Kind: KindClient, Message: fmt.Sprintf("unknown vehicle %s", vin), Err: ErrNoVehicle})
	}

	snap, err := s.load(ctx, vin)
	if err != nil {
		return s.report(err)
	}
	s.mu.Lock()
	s.vin = vin
	s.snap.Car = snap.Car
	s.snap.Alerts = snap.Alerts
	out := s.snap.clone()
	s.mu.Unlock()

	s.sink.Snapshot(out)
	return nil
}

// RetryConnection reconnects right away if the push channel is waiting for
// its next attempt.
func (s *Session) RetryConnection() error {
	return s.push.Retry()
}

// Logout disconnects, revokes the refresh token and clears the stored
// credentials.
func (s *Session) Logout(ctx context.Context) error {
	s.push.Disconnect()
	if err := s.client.SignOut(ctx); err != nil {
		s.logger.Warn("sign out failed", zap.Error(err))
		return err
	}
	return nil
}

// Close stops the push channel and waits for background fetches.
func (s *Session) Close() {
	s.cancel()
	s.push.Disconnect()
	s.client.Pool().Close()
}

func (s *Session) forcedLogout() {
	s.push.Disconnect()
	s.sink.ForcedLogout()
}

// report forwards err to the sink and returns it as a *Failure. Forced
// logouts are reported through ForcedLogout only.
func (s *Session) report(err error) error {
	f := Classify(err)
	if f == nil {
		return nil
	}
	if isCanceled(err) || errors.Is(f, ErrForcedLogout) {
		return f
	}
	s.sink.Failure(f)
	return f
}
