package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	carwings "github.com/opencarwings/carwings-go"
)

var (
	watchJSON           bool
	watchConnectTimeout time.Duration
)

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print one JSON object per event")
	watchCmd.Flags().DurationVar(&watchConnectTimeout, "connect-timeout", 15*time.Second, "How long to wait for the push channel before warning")
	rootCmd.AddCommand(watchCmd)
}

var errNotConnected = errors.New("push channel not acknowledged")

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live vehicle updates and alerts",
	Long:  "Load the selected vehicle, open the push channel and print every update until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := &printSink{out: os.Stdout, errOut: os.Stderr, json: watchJSON, logger: a.logger, done: stop}
		sess := carwings.NewSession(a.client, sink,
			carwings.WithSessionLogger(a.logger),
			carwings.WithVIN(current.VIN),
		)
		defer sess.Close()

		startCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err = sess.Start(startCtx)
		cancel()
		if err != nil {
			return describe(err)
		}

		_, err = backoff.Retry(ctx, func() (struct{}, error) {
			if sess.Push().IsConnected() {
				return struct{}{}, nil
			}
			return struct{}{}, errNotConnected
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(250*time.Millisecond)),
			backoff.WithMaxElapsedTime(watchConnectTimeout),
		)
		if err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Push channel not connected yet; still retrying in the background.")
		}

		<-ctx.Done()
		return sink.err()
	},
}

// ============================================================================
// printSink
// ============================================================================

// printSink writes session output to the terminal. A fatal failure or a
// forced logout ends the watch.
type printSink struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	logger *zap.Logger
	done   context.CancelFunc

	mu    sync.Mutex
	fatal error
}

var _ carwings.EventSink = (*printSink)(nil)

type jsonLine struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data,omitempty"`
}

func (p *printSink) Event(ev carwings.Event) {
	switch ev := ev.(type) {
	case carwings.Connected:
		if ev.Silent {
			p.logger.Debug("push channel connected")
			return
		}
		p.emit(ev.Kind(), nil, "Connected.")
	case carwings.Disconnected:
		p.logger.Debug("push channel lost")
	case carwings.Reconnecting:
		p.emit(ev.Kind(), nil, "Connection lost, reconnecting...")
	case carwings.ClientError:
		fmt.Fprintf(p.errOut, "warning: %s\n", ev.Message)
	case carwings.ServerAck:
		p.logger.Debug("listen acknowledged")
	case carwings.AlertReceived:
		p.emit(ev.Kind(), ev.Alert, "")
		if !p.json {
			printAlertTo(p.out, ev.Alert)
		}
	case carwings.VehicleUpdated:
		p.emit(ev.Kind(), ev.Car, "")
		if !p.json {
			printCarLine(p.out, ev.Car)
		}
	}
}

func (p *printSink) Snapshot(s carwings.Snapshot) {
	if p.json {
		p.emit("snapshot", s, "")
		return
	}
	printCarLine(p.out, s.Car)
	fmt.Fprintf(p.out, "%d alerts\n", len(s.Alerts))
}

func (p *printSink) Failure(f *carwings.Failure) {
	fmt.Fprintf(p.errOut, "error: %v\n", describe(f))
	if f.Fatal {
		p.stop(f)
	}
}

func (p *printSink) ForcedLogout() {
	fmt.Fprintln(p.errOut, "Session expired. Run 'carwings login <username>' again.")
	p.stop(carwings.ErrForcedLogout)
}

func (p *printSink) stop(err error) {
	p.mu.Lock()
	if p.fatal == nil {
		p.fatal = err
	}
	p.mu.Unlock()
	if p.done != nil {
		p.done()
	}
}

func (p *printSink) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

// emit prints a JSON line in --json mode, otherwise text when non-empty.
func (p *printSink) emit(kind string, data interface{}, text string) {
	if p.json {
		b, err := json.Marshal(jsonLine{Kind: kind, Data: data})
		if err != nil {
			p.logger.Warn("encode event", zap.Error(err))
			return
		}
		fmt.Fprintln(p.out, string(b))
		return
	}
	if text != "" {
		fmt.Fprintln(p.out, text)
	}
}

func printCarLine(w io.Writer, car carwings.Car) {
	state := "idle"
	switch {
	case car.EVInfo.QuickCharging:
		state = "quick charging"
	case car.EVInfo.Charging:
		state = "charging"
	case car.EVInfo.PluggedIn:
		state = "plugged in"
	case car.EVInfo.CarRunning:
		state = "running"
	}
	fmt.Fprintf(w, "%s  %s%%  %s km  %s  climate=%t\n",
		car.VIN, optFloat(car.EVInfo.SOC), optInt(car.EVInfo.RangeACOff), state, car.EVInfo.ACStatus)
}

func printAlertTo(w io.Writer, al carwings.Alert) {
	fmt.Fprintf(w, "alert: %s\n", alertText(al))
}
