package carwings

import (
	"fmt"
	"time"
)

// ============================================================================
// Vehicle
// ============================================================================

// CarSummary is one entry of the vehicle list.
type CarSummary struct {
	VIN      string `json:"vin"`
	Nickname string `json:"nickname,omitempty"`
	Color    string `json:"color,omitempty"`
}

// Car is the full vehicle record, as returned by vehicle-read and pushed
// over the notification channel.
type Car struct {
	VIN              string         `json:"vin"`
	Nickname         string         `json:"nickname,omitempty"`
	Color            string         `json:"color,omitempty"`
	VehicleCode1     int            `json:"vehicle_code1,omitempty"`
	TCUModel         string         `json:"tcu_model,omitempty"`
	TCUSerial        string         `json:"tcu_serial,omitempty"`
	TCUVersion       string         `json:"tcu_ver,omitempty"`
	Odometer         *int           `json:"odometer,omitempty"`
	LastConnection   *time.Time     `json:"last_connection,omitempty"`
	CommandRequested bool           `json:"command_requested"`
	CommandType      CommandType    `json:"command_type,omitempty"`
	EVInfo           EVInfo         `json:"ev_info"`
	Location         Location       `json:"location"`
	TimerCommands    []CommandTimer `json:"timer_commands,omitempty"`
	SMSConfig        map[string]any `json:"sms_config,omitempty"`
}

// EVInfo holds battery and charging state.
type EVInfo struct {
	SOC           *float64   `json:"soc,omitempty"`
	SOCDisplay    *float64   `json:"soc_display,omitempty"`
	SOH           *int       `json:"soh,omitempty"`
	GIDs          *int       `json:"gids,omitempty"`
	MaxGIDs       *int       `json:"max_gids,omitempty"`
	CapBars       *int       `json:"cap_bars,omitempty"`
	ChargeBars    *int       `json:"charge_bars,omitempty"`
	RangeACOn     *int       `json:"range_acon,omitempty"`
	RangeACOff    *int       `json:"range_acoff,omitempty"`
	Charging      bool       `json:"charging"`
	QuickCharging bool       `json:"quick_charging"`
	PluggedIn     bool       `json:"plugged_in"`
	CarRunning    bool       `json:"car_running"`
	CarGear       int        `json:"car_gear"`
	ACStatus      bool       `json:"ac_status"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
}

// Location is the last reported vehicle position.
type Location struct {
	Lat       *float64   `json:"lat,omitempty"`
	Lon       *float64   `json:"lon,omitempty"`
	Home      bool       `json:"home,omitempty"`
	Timestamp *time.Time `json:"last_updated,omitempty"`
}

// CommandType selects the remote command sent to the vehicle's TCU.
type CommandType int

const (
	CommandRefresh     CommandType = 1
	CommandCharge      CommandType = 2
	CommandClimateOn   CommandType = 3
	CommandClimateOff  CommandType = 4
	CommandTCUSettings CommandType = 5
)

var commandNames = map[CommandType]string{
	CommandRefresh:     "refresh",
	CommandCharge:      "charge",
	CommandClimateOn:   "climate-on",
	CommandClimateOff:  "climate-off",
	CommandTCUSettings: "tcu-settings",
}

func (c CommandType) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommandType accepts a command name ("charge") or its number ("2").
func ParseCommandType(s string) (CommandType, error) {
	for c, n := range commandNames {
		if n == s || fmt.Sprint(int(c)) == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// Timer schedules.
const (
	TimerOnce   = 0
	TimerWeekly = 1
)

// CommandTimer is a scheduled command stored on the server. Time is "HH:MM"
// in UTC.
type CommandTimer struct {
	ID          *int64      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Time        string      `json:"time"`
	TimerType   int         `json:"timer_type"`
	Date        *string     `json:"date,omitempty"`
	WeekdayMon  bool        `json:"weekday_mon"`
	WeekdayTue  bool        `json:"weekday_tue"`
	WeekdayWed  bool        `json:"weekday_wed"`
	WeekdayThu  bool        `json:"weekday_thu"`
	WeekdayFri  bool        `json:"weekday_fri"`
	WeekdaySat  bool        `json:"weekday_sat"`
	WeekdaySun  bool        `json:"weekday_sun"`
	CommandType CommandType `json:"command_type"`
	Enabled     bool        `json:"enabled"`
}

type commandRequest struct {
	CommandType CommandType `json:"command_type"`
}

type commandResponse struct {
	Car Car `json:"car"`
}

// ============================================================================
// Alerts
// ============================================================================

// Alert is one entry of the vehicle's alert history.
type Alert struct {
	ID             int64      `json:"id"`
	Type           int        `json:"type"`
	TypeDisplay    string     `json:"type_display,omitempty"`
	AdditionalData *string    `json:"additional_data,omitempty"`
	CommandID      *int64     `json:"command_id,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// ============================================================================
// Tokens
// ============================================================================

// LoginOptions is the token-obtain request body.
type LoginOptions struct {
	Username            string `json:"username"`
	Password            string `json:"password"`
	DeviceOS            string `json:"device_os,omitempty"`
	DeviceType          string `json:"device_type,omitempty"`
	AppVersion          string `json:"app_version,omitempty"`
	PushNotificationKey string `json:"push_notification_key,omitempty"`
}

// TokenPair is returned by token-obtain.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type tokenRefreshRequest struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access,omitempty"`
}

type tokenRefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type tokenRevokeRequest struct {
	Refresh string `json:"refresh"`
}

// TokenMetadata updates the device metadata attached to a refresh token.
type TokenMetadata struct {
	PushNotificationKey string `json:"push_notification_key,omitempty"`
	DeviceOS            string `json:"device_os,omitempty"`
	DeviceType          string `json:"device_type,omitempty"`
	AppVersion          string `json:"app_version,omitempty"`
	Refresh             string `json:"refresh"`
}

// ============================================================================
// Map links
// ============================================================================

type mapLinkRequest struct {
	URL string `json:"url"`
}

// MapLinkResult is a shared map URL resolved into a named coordinate.
type MapLinkResult struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}
