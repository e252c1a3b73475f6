package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	carwings "github.com/opencarwings/carwings-go"
)

var (
	timerName     string
	timerDays     string
	timerDisabled bool
)

func init() {
	timerAddCmd.Flags().StringVar(&timerName, "name", "", "Timer name")
	timerAddCmd.Flags().StringVar(&timerDays, "days", "mon,tue,wed,thu,fri,sat,sun", "Comma-separated weekdays")
	timerAddCmd.Flags().BoolVar(&timerDisabled, "disabled", false, "Create the timer disabled")
	timerCmd.AddCommand(timerAddCmd)
	timerCmd.AddCommand(timerDeleteCmd)
	rootCmd.AddCommand(timerCmd)
}

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Manage scheduled commands",
}

var timerAddCmd = &cobra.Command{
	Use:   "add <HH:MM> <command>",
	Short: "Schedule a command on the selected vehicle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := carwings.ParseCommandType(args[1])
		if err != nil {
			return err
		}
		t, err := buildTimer(args[0], kind, timerDays, time.Local)
		if err != nil {
			return err
		}
		t.Name = valueOrDefault(timerName, fmt.Sprintf("%s at %s", kind, args[0]))
		t.Enabled = !timerDisabled

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
		created, err := a.client.CreateTimer(ctx, vin, t)
		if err != nil {
			return describe(err)
		}
		if created.ID != nil {
			fmt.Printf("Timer %d created\n", *created.ID)
		} else {
			fmt.Println("Timer created")
		}
		return nil
	},
}

var timerDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a scheduled command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timer id %q", args[0])
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
		if err := a.client.DeleteTimer(ctx, vin, id); err != nil {
			return describe(err)
		}
		fmt.Printf("Timer %d deleted\n", id)
		return nil
	},
}

// buildTimer parses a local "HH:MM" and a weekday list into a weekly timer.
// The server stores timer times in UTC.
func buildTimer(at string, kind carwings.CommandType, days string, loc *time.Location) (carwings.CommandTimer, error) {
	t := carwings.CommandTimer{CommandType: kind, TimerType: carwings.TimerWeekly}
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return t, fmt.Errorf("time must be HH:MM, got %q", at)
	}
	h, herr := strconv.Atoi(parts[0])
	m, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return t, fmt.Errorf("time must be HH:MM, got %q", at)
	}
	now := time.Now().In(loc)
	t.Time = time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc).UTC().Format("15:04")

	for _, d := range strings.Split(days, ",") {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "mon":
			t.WeekdayMon = true
		case "tue":
			t.WeekdayTue = true
		case "wed":
			t.WeekdayWed = true
		case "thu":
			t.WeekdayThu = true
		case "fri":
			t.WeekdayFri = true
		case "sat":
			t.WeekdaySat = true
		case "sun":
			t.WeekdaySun = true
		case "":
		default:
			return t, fmt.Errorf("unknown weekday %q", d)
		}
	}
	if !(t.WeekdayMon || t.WeekdayTue || t.WeekdayWed || t.WeekdayThu || t.WeekdayFri || t.WeekdaySat || t.WeekdaySun) {
		return t, fmt.Errorf("select at least one weekday")
	}
	return t, nil
}
