package carwings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame kinds with a dedicated meaning. Every other kind is decoded as a
// vehicle snapshot, which is how the server tags car updates today.
const (
	FrameAlert  = "alert"
	FrameListen = "listen"
)

// Envelope is the wire format of a push-channel frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	errNoVIN        = errors.New("snapshot has no vin")
	errAlertMissing = errors.New("missing data")
	errAlertFields  = errors.New("alert needs id and type")
)

// Decode turns one text frame into an Event. It never fails: frames that
// cannot be decoded become ClientError events.
func Decode(frame []byte) Event {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return ClientError{Message: fmt.Sprintf("decode frame: %v", err)}
	}

	switch env.Type {
	case FrameListen:
		return ServerAck{}
	case FrameAlert:
		a, err := decodeAlert(env.Data)
		if err != nil {
			return ClientError{Message: fmt.Sprintf("decode alert: %v", err)}
		}
		return AlertReceived{Alert: a}
	default:
		car, err := decodeSnapshot(env, frame)
		if err != nil {
			return ClientError{Message: fmt.Sprintf("decode snapshot: %v", err)}
		}
		return VehicleUpdated{Car: car}
	}
}

// decodeAlert requires an object carrying at least the alert's id and type.
func decodeAlert(raw json.RawMessage) (Alert, error) {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return Alert{}, errAlertMissing
	}
	var required struct {
		ID   *int64 `json:"id"`
		Type *int   `json:"type"`
	}
	if err := json.Unmarshal(raw, &required); err != nil {
		return Alert{}, err
	}
	if required.ID == nil || required.Type == nil {
		return Alert{}, errAlertFields
	}
	var a Alert
	if err := json.Unmarshal(raw, &a); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// decodeSnapshot reads the car from "data", or from the whole frame when
// the server sent the record inline.
func decodeSnapshot(env Envelope, frame []byte) (Car, error) {
	raw := []byte(env.Data)
	if len(raw) == 0 {
		raw = frame
	}
	var car Car
	if err := json.Unmarshal(raw, &car); err != nil {
		return Car{}, err
	}
	if car.VIN == "" {
		return Car{}, errNoVIN
	}
	return car, nil
}

// EncodeFrame builds a frame in the server's format. Used by tools and tests
// that stand in for the server.
func EncodeFrame(kind string, data any) ([]byte, error) {
	env := Envelope{Type: kind}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal frame data: %w", err)
		}
		env.Data = b
	}
	return json.Marshal(env)
}
