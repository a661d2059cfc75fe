// Package telemetry decodes ChirpStack uplink events and the fixed binary
// payload emitted by the body-worn trackers.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload marks a payload that cannot be decoded: bad base64,
// truncated buffer, or an unparseable envelope. Messages failing with this
// error are dropped; telemetry delivery is at-most-once.
var ErrMalformedPayload = errors.New("malformed payload")

// Event kinds published by ChirpStack under
// application/{app-id}/device/{dev-eui}/event/{kind}.
const (
	EventUp    = "up"
	EventJoin  = "join"
	EventAck   = "ack"
	EventError = "error"
)

// DeviceInfo is the device metadata block ChirpStack attaches to every event.
type DeviceInfo struct {
	DevEUI     string            `json:"devEui"`
	DeviceName string            `json:"deviceName"`
	Tags       map[string]string `json:"tags"`
}

// Envelope is the subset of a ChirpStack event we consume. Only uplinks carry
// Data; join/ack/error events are informational.
type Envelope struct {
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	Data       string     `json:"data"` // base64-encoded tracker payload
	Error      string     `json:"error,omitempty"`
}

// Unit returns the organizational unit tag, or "" when not set.
func (e *Envelope) Unit() string {
	return e.DeviceInfo.Tags["unit"]
}

// ParseEnvelope decodes a ChirpStack event JSON body. A missing device EUI is
// an error for every event kind: without it we cannot attribute the message.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformedPayload, err)
	}
	if env.DeviceInfo.DevEUI == "" {
		return nil, fmt.Errorf("%w: missing device EUI", ErrMalformedPayload)
	}
	return &env, nil
}

// ParseTopic splits a ChirpStack event topic into application ID, device EUI
// and event kind.
func ParseTopic(topic string) (appID, devEUI, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != "application" || parts[2] != "device" || parts[4] != "event" {
		return "", "", "", fmt.Errorf("unrecognized topic %q", topic)
	}
	switch parts[5] {
	case EventUp, EventJoin, EventAck, EventError:
	default:
		return "", "", "", fmt.Errorf("unrecognized event kind %q in topic %q", parts[5], topic)
	}
	return parts[1], parts[3], parts[5], nil
}
