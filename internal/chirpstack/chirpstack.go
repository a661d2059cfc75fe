// Package chirpstack registers devices and their OTAA keys with the
// ChirpStack network server over its REST API. Provisioning is advisory:
// callers treat failures as log-and-continue.
package chirpstack

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/linnemanlabs/go-core/log"
)

const (
	devEUIHexLen = 16
	appKeyHexLen = 32
)

// Config holds network-server connection settings.
type Config struct {
	Endpoint        string // e.g. http://chirpstack:8090
	APIToken        string
	ApplicationID   string
	DeviceProfileID string
}

// Client talks to the ChirpStack REST API.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger log.Logger
}

// New creates a ChirpStack client. The API token is attached to every
// request; ChirpStack's REST gateway reads it from the gRPC metadata header.
func New(cfg Config, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Grpc-Metadata-Authorization", "Bearer "+cfg.APIToken)

	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

type device struct {
	DevEUI          string `json:"devEui"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ApplicationID   string `json:"applicationId"`
	DeviceProfileID string `json:"deviceProfileId"`
	JoinEUI         string `json:"joinEui,omitempty"`
}

type deviceKeys struct {
	DevEUI string `json:"devEui"`
	NwkKey string `json:"nwkKey"`
	AppKey string `json:"appKey"`
}

// ProvisionDevice creates the device and its OTAA keys on the network
// server. The join EUI and application key are freshly generated; the same
// key doubles as the network key, matching the LoRaWAN 1.0.x layout the
// trackers speak.
func (c *Client) ProvisionDevice(ctx context.Context, devEUI, name string) error {
	return c.ProvisionDeviceWithKeys(ctx, devEUI, name, "", "")
}

// ProvisionDeviceWithKeys is ProvisionDevice with caller-supplied OTAA
// material, for trackers whose keys are printed on the device label. Empty
// joinEUI or appKey falls back to generation.
func (c *Client) ProvisionDeviceWithKeys(ctx context.Context, devEUI, name, joinEUI, appKey string) error {
	devEUI, err := normalizeHex(devEUI, devEUIHexLen, "device EUI")
	if err != nil {
		return err
	}
	if name == "" {
		name = "tracker-" + devEUI
	}

	available, err := c.DeviceAvailable(ctx, devEUI)
	if err != nil {
		return err
	}
	if !available {
		c.logger.Info(ctx, "device already provisioned", "dev_eui", devEUI)
		return nil
	}

	if joinEUI == "" {
		joinEUI, err = randomHex(devEUIHexLen)
		if err != nil {
			return fmt.Errorf("generate join EUI: %w", err)
		}
	} else if joinEUI, err = normalizeHex(joinEUI, devEUIHexLen, "join EUI"); err != nil {
		return err
	}
	if appKey == "" {
		appKey, err = randomHex(appKeyHexLen)
		if err != nil {
			return fmt.Errorf("generate app key: %w", err)
		}
	} else if appKey, err = normalizeHex(appKey, appKeyHexLen, "app key"); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]device{"device": {
			DevEUI:          devEUI,
			Name:            name,
			Description:     "Casualty tracking device for " + name,
			ApplicationID:   c.cfg.ApplicationID,
			DeviceProfileID: c.cfg.DeviceProfileID,
			JoinEUI:         joinEUI,
		}}).
		Post("/api/devices")
	if err != nil {
		return fmt.Errorf("create device %s: %w", devEUI, err)
	}
	if resp.IsError() {
		return fmt.Errorf("create device %s: %s: %s", devEUI, resp.Status(), resp.String())
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]deviceKeys{"deviceKeys": {
			DevEUI: devEUI,
			NwkKey: appKey,
			AppKey: appKey,
		}}).
		Post("/api/devices/" + devEUI + "/keys")
	if err != nil {
		return fmt.Errorf("create device keys %s: %w", devEUI, err)
	}
	if resp.IsError() {
		return fmt.Errorf("create device keys %s: %s: %s", devEUI, resp.Status(), resp.String())
	}

	c.logger.Info(ctx, "device provisioned", "dev_eui", devEUI, "name", name)
	return nil
}

// DeviceAvailable reports whether the EUI is free on the network server. A
// 404 means available; a 200 means a device already holds it.
func (c *Client) DeviceAvailable(ctx context.Context, devEUI string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/devices/" + devEUI)
	if err != nil {
		return false, fmt.Errorf("get device %s: %w", devEUI, err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return true, nil
	case http.StatusOK:
		return false, nil
	default:
		return false, fmt.Errorf("get device %s: %s: %s", devEUI, resp.Status(), resp.String())
	}
}

// normalizeHex strips separators, lowercases, and enforces the exact hex
// length the API expects.
func normalizeHex(value string, length int, field string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", field)
	}
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) != length {
		return "", fmt.Errorf("%s must be %d hex characters, got %d", field, length, len(clean))
	}
	return clean, nil
}

// randomHex returns n hex characters from a CSPRNG.
func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
