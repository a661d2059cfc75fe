package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds medevac-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	MQTTBroker            string
	MQTTClientID          string
	MQTTCAFile            string
	MQTTCertFile          string
	MQTTKeyFile           string
	MQTTInsecure          bool
	MQTTQueueSize         int
	ChirpstackEndpoint    string
	ChirpstackAPIToken    string
	ChirpstackAppID       string
	ChirpstackProfileID   string
	SlackWebhookURL       string
	RankModeDefault       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token guarding mutating API routes (empty = open)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for ChirpStack events (e.g. ssl://broker:8883; empty = ingestion disabled)")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", "medevac-server", "MQTT client identifier")
	fs.StringVar(&c.MQTTCAFile, "mqtt-ca-file", "", "CA certificate for broker mTLS")
	fs.StringVar(&c.MQTTCertFile, "mqtt-cert-file", "", "client certificate for broker mTLS")
	fs.StringVar(&c.MQTTKeyFile, "mqtt-key-file", "", "client key for broker mTLS")
	fs.BoolVar(&c.MQTTInsecure, "mqtt-insecure", false, "skip broker TLS certificate verification (test only)")
	fs.IntVar(&c.MQTTQueueSize, "mqtt-queue-size", 1024, "inbound message queue size before drops (1..65536)")
	fs.StringVar(&c.ChirpstackEndpoint, "chirpstack-endpoint", "", "ChirpStack REST API base URL (empty = provisioning disabled)")
	fs.StringVar(&c.ChirpstackAPIToken, "chirpstack-api-token", "", "ChirpStack API bearer token")
	fs.StringVar(&c.ChirpstackAppID, "chirpstack-application-id", "", "ChirpStack application ID for provisioned devices")
	fs.StringVar(&c.ChirpstackProfileID, "chirpstack-device-profile-id", "", "ChirpStack device profile ID for provisioned devices")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert notifications")
	fs.StringVar(&c.RankModeDefault, "rank-mode-default", "basic", "ranking mode when a request does not specify one (basic|duration)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MQTTQueueSize <= 0 || c.MQTTQueueSize > 65536 {
		errs = append(errs, fmt.Errorf("invalid MQTT_QUEUE_SIZE %d (must be 1..65536)", c.MQTTQueueSize))
	}

	// mTLS needs cert and key as a pair
	if (c.MQTTCertFile == "") != (c.MQTTKeyFile == "") {
		errs = append(errs, errors.New("MQTT_CERT_FILE and MQTT_KEY_FILE must be set together"))
	}

	// Provisioning needs the full ChirpStack credential set
	if c.ChirpstackEndpoint != "" {
		if c.ChirpstackAPIToken == "" {
			errs = append(errs, errors.New("CHIRPSTACK_API_TOKEN is required when CHIRPSTACK_ENDPOINT is set"))
		}
		if c.ChirpstackAppID == "" {
			errs = append(errs, errors.New("CHIRPSTACK_APPLICATION_ID is required when CHIRPSTACK_ENDPOINT is set"))
		}
		if c.ChirpstackProfileID == "" {
			errs = append(errs, errors.New("CHIRPSTACK_DEVICE_PROFILE_ID is required when CHIRPSTACK_ENDPOINT is set"))
		}
	}

	if c.RankModeDefault != "basic" && c.RankModeDefault != "duration" {
		errs = append(errs, fmt.Errorf("invalid RANK_MODE_DEFAULT %q (must be basic or duration)", c.RankModeDefault))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
