package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	carwings "github.com/opencarwings/carwings-go"
)

var (
	carJSON     bool
	commandWait time.Duration
)

func init() {
	for _, c := range []*cobra.Command{carsCmd, carCmd, commandCmd, alertsCmd} {
		c.Flags().BoolVar(&carJSON, "json", false, "Output raw JSON")
		rootCmd.AddCommand(c)
	}
	commandCmd.Flags().DurationVar(&commandWait, "wait", 0, "Wait up to this long for the vehicle to answer")
}

// ============================================================================
// cars
// ============================================================================

var carsCmd = &cobra.Command{
	Use:   "cars",
	Short: "List the vehicles of the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		cars, err := a.client.Cars(ctx)
		if err != nil {
			return describe(err)
		}
		if carJSON {
			return printJSON(cars)
		}
		if len(cars) == 0 {
			fmt.Println("No vehicles.")
			return nil
		}
		for _, c := range cars {
			fmt.Printf("%s  %-20s %s\n", c.VIN, c.Nickname, c.Color)
		}
		return nil
	},
}

// ============================================================================
// car
// ============================================================================

var carCmd = &cobra.Command{
	Use:   "car",
	Short: "Show the selected vehicle",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		vin, err := a.vin(ctx)
		if err != nil {
			return describe(err)
		}
		car, err := a.client.Car(ctx, vin)
		if err != nil {
			return describe(err)
		}
		if carJSON {
			return printJSON(car)
		}
		printCar(car)
		return nil
	},
}

func printCar(car *carwings.Car) {
	fmt.Printf("VIN:          %s\n", car.VIN)
	fmt.Printf("Nickname:     %s\n", valueOrDefault(car.Nickname, "-"))
	fmt.Printf("Odometer:     %s\n", optInt(car.Odometer))
	if car.LastConnection != nil {
		fmt.Printf("Last contact: %s\n", car.LastConnection.Format(time.RFC3339))
	}
	ev := car.EVInfo
	fmt.Printf("Battery:      %s%% (%s bars)\n", optFloat(ev.SOC), optInt(ev.ChargeBars))
	fmt.Printf("Range:        %s km (climate on %s km)\n", optInt(ev.RangeACOff), optInt(ev.RangeACOn))
	fmt.Printf("Plugged in:   %t  charging: %t  quick: %t\n", ev.PluggedIn, ev.Charging, ev.QuickCharging)
	fmt.Printf("Climate:      %t\n", ev.ACStatus)
	if car.Location.Lat != nil && car.Location.Lon != nil {
		fmt.Printf("Location:     %.5f, %.5f\n", *car.Location.Lat, *car.Location.Lon)
	}
	if car.CommandRequested {
		fmt.Printf("Pending:      %s\n", car.CommandType)
	}
}

// ============================================================================
// command
// ============================================================================

var errCommandPending = errors.New("command still pending")

var commandCmd = &cobra.Command{
	Use:       "command <refresh|charge|climate-on|climate-off|tcu-settings>",
	Short:     "Send a remote command to the vehicle",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"refresh", "charge", "climate-on", "climate-off", "tcu-settings"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := carwings.ParseCommandType(args[0])
		if err != nil {
			return err
		}

		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		vin, err := a.vin(ctx)
		if err != nil {
			return describe(err)
		}
		car, err := a.client.SendCommand(ctx, vin, kind)
		if err != nil {
			return describe(err)
		}
		fmt.Printf("Sent %s to %s\n", kind, vin)

		if commandWait > 0 && car.CommandRequested {
			wctx, wcancel := context.WithTimeout(context.Background(), commandWait)
			defer wcancel()
			car, err = waitForCommand(wctx, a, vin)
			if err != nil {
				return describe(err)
			}
		}
		if carJSON {
			return printJSON(car)
		}
		printCar(car)
		return nil
	},
}

// waitForCommand polls the vehicle on the push channel's reconnect
// schedule until the server cleared the pending command.
func waitForCommand(ctx context.Context, a *app, vin string) (*carwings.Car, error) {
	op := func() (*carwings.Car, error) {
		car, err := a.client.Car(ctx, vin)
		if err != nil {
			if carwings.IsFatal(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if car.CommandRequested {
			return nil, errCommandPending
		}
		return car, nil
	}
	notify := func(err error, d time.Duration) {
		a.logger.Debug("waiting for vehicle", zap.Error(err), zap.Duration("next", d))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(carwings.NewReconnectBackOff()),
		backoff.WithMaxElapsedTime(commandWait),
		backoff.WithNotify(notify),
	)
}

// ============================================================================
// alerts
// ============================================================================

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show the alert history of the selected vehicle",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		vin, err := a.vin(ctx)
		if err != nil {
			return describe(err)
		}
		alerts, err := a.client.Alerts(ctx, vin)
		if err != nil {
			return describe(err)
		}
		if carJSON {
			return printJSON(alerts)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts.")
			return nil
		}
		for _, al := range alerts {
			printAlert(al)
		}
		return nil
	},
}

func printAlert(al carwings.Alert) {
	ts := "-"
	if al.Timestamp != nil {
		ts = al.Timestamp.Local().Format("2006-01-02 15:04")
	}
	fmt.Printf("%s  %s\n", ts, alertText(al))
}

func alertText(al carwings.Alert) string {
	msg := valueOrDefault(al.TypeDisplay, fmt.Sprintf("type %d", al.Type))
	if al.AdditionalData != nil && *al.AdditionalData != "" {
		msg += ": " + *al.AdditionalData
	}
	return msg
}
