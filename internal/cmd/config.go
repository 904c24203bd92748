package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Endpoint    string `yaml:"endpoint"`
	ContainerID string `yaml:"container_id"`
	AdsID       string `yaml:"ads_id"`
	DebugMode   bool   `yaml:"debug_mode"`

	Relay struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"relay"`

	KeyEventsPath string `yaml:"key_events_path"`

	Page struct {
		URL      string `yaml:"url"`
		Title    string `yaml:"title"`
		Referrer string `yaml:"referrer"`
	} `yaml:"page"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Env-only operation is fine; yaml is an overlay.
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// applyEnv lets environment variables override the yaml values.
func (c *Config) applyEnv() {
	c.Endpoint = getEnv("TELEMETRY_ENDPOINT", c.Endpoint)
	c.ContainerID = getEnv("TELEMETRY_CONTAINER_ID", c.ContainerID)
	c.AdsID = getEnv("TELEMETRY_ADS_ID", c.AdsID)
	c.DebugMode = getEnvAsBool("TELEMETRY_DEBUG", c.DebugMode)
	c.Relay.URL = getEnv("TELEMETRY_RELAY_URL", c.Relay.URL)
	c.Relay.Subject = getEnv("TELEMETRY_RELAY_SUBJECT", c.Relay.Subject)
	if c.Relay.Subject == "" {
		c.Relay.Subject = "telemetry.events"
	}
	if c.Endpoint == "" {
		c.Endpoint = "https://collect.cdlhelp.com/collect"
	}
}
