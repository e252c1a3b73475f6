package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	carwings "github.com/opencarwings/carwings-go"
)

const requestTimeout = 30 * time.Second

// app bundles what an online command needs.
type app struct {
	store  *fileStore
	client *carwings.Client
	logger *zap.Logger
}

// newApp opens the credential store and builds a client from the
// effective settings.
func newApp() (*app, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	store, err := openFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	logger, err := newLogger(current.Verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	client := carwings.NewClient(store,
		carwings.WithBaseURL(current.Server),
		carwings.WithLocale(current.Locale),
		carwings.WithLogger(logger),
		carwings.WithUserAgent("carwings-cli"),
	)
	return &app{store: store, client: client, logger: logger}, nil
}

// newAuthedApp is newApp for commands that need a logged-in user.
func newAuthedApp() (*app, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}
	if a.store.Credential().Empty() {
		return nil, fmt.Errorf("%w; run 'carwings login <username>' first", carwings.ErrNotLoggedIn)
	}
	return a, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// vin returns the --vin setting or the first vehicle of the account.
func (a *app) vin(ctx context.Context) (string, error) {
	if current.VIN != "" {
		return current.VIN, nil
	}
	cars, err := a.client.Cars(ctx)
	if err != nil {
		return "", err
	}
	if len(cars) == 0 {
		return "", carwings.ErrNoVehicle
	}
	return cars[0].VIN, nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

// describe turns a library error into a one-line message for the terminal.
func describe(err error) error {
	if errors.Is(err, carwings.ErrForcedLogout) {
		return fmt.Errorf("%v; run 'carwings login <username>'", err)
	}
	var f *carwings.Failure
	if errors.As(err, &f) && f.Status != 0 {
		return fmt.Errorf("%s (HTTP %d)", f.Message, f.Status)
	}
	return err
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

func optFloat(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *p)
}

func printTOML(v interface{}) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Print(string(b))
	return nil
}
