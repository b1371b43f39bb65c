package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CHATD_PORT", "CHATD_WORKERS", "ADMIN_ID", "MAX_CONNS_PER_IP",
		"PING_INTERVAL", "PONG_TIMEOUT", "MAX_PAYLOAD_BYTES",
		"SEND_QUEUE_SIZE", "PRESENCE_DEBOUNCE", "SHUTDOWN_GRACE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}

	if cfg.Gateway.Port != 8090 {
		t.Errorf("Expected default port 8090, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.AdminID != "admin" {
		t.Errorf("Expected default admin id, got %s", cfg.Gateway.AdminID)
	}
	if cfg.Gateway.MaxConnsPerIP != 20 {
		t.Errorf("Expected default per-ip cap 20, got %d", cfg.Gateway.MaxConnsPerIP)
	}
	if cfg.Gateway.PingInterval != 30*time.Second {
		t.Errorf("Expected default ping interval 30s, got %s", cfg.Gateway.PingInterval)
	}
	if cfg.Gateway.MaxPayloadBytes != 64*1024 {
		t.Errorf("Expected default payload cap 64KiB, got %d", cfg.Gateway.MaxPayloadBytes)
	}
	if cfg.Supervisor.Workers <= 0 || cfg.Supervisor.Workers > 8 {
		t.Errorf("Expected worker default in 1..8, got %d", cfg.Supervisor.Workers)
	}
	if cfg.Supervisor.BasePort != cfg.Gateway.Port {
		t.Errorf("Expected base port to track the gateway port")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHATD_PORT", "9100")
	t.Setenv("CHATD_WORKERS", "3")
	t.Setenv("ADMIN_ID", "support")
	t.Setenv("MAX_CONNS_PER_IP", "5")
	t.Setenv("PING_INTERVAL", "5s")
	t.Setenv("PONG_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}

	if cfg.Gateway.Port != 9100 {
		t.Errorf("Expected port 9100, got %d", cfg.Gateway.Port)
	}
	if cfg.Supervisor.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Supervisor.Workers)
	}
	if cfg.Gateway.AdminID != "support" {
		t.Errorf("Expected admin id support, got %s", cfg.Gateway.AdminID)
	}
	if cfg.Gateway.MaxConnsPerIP != 5 {
		t.Errorf("Expected per-ip cap 5, got %d", cfg.Gateway.MaxConnsPerIP)
	}
	if cfg.Gateway.PingInterval != 5*time.Second {
		t.Errorf("Expected ping interval 5s, got %s", cfg.Gateway.PingInterval)
	}
	if cfg.Gateway.PongTimeout != 2*time.Second {
		t.Errorf("Expected pong timeout 2s, got %s", cfg.Gateway.PongTimeout)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_CONNS_PER_IP", "not-a-number")
	t.Setenv("PING_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}
	if cfg.Gateway.MaxConnsPerIP != 20 {
		t.Errorf("Expected unparseable cap to fall back to 20, got %d", cfg.Gateway.MaxConnsPerIP)
	}
	if cfg.Gateway.PingInterval != 30*time.Second {
		t.Errorf("Expected unparseable interval to fall back to 30s, got %s", cfg.Gateway.PingInterval)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Gateway: GatewayConfig{
				Port:            8090,
				AdminID:         "admin",
				MaxConnsPerIP:   20,
				PingInterval:    30 * time.Second,
				PongTimeout:     10 * time.Second,
				MaxPayloadBytes: 64 * 1024,
				SendQueueSize:   256,
			},
			Supervisor: SupervisorConfig{Workers: 2},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config to pass, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Gateway.Port = 0 }},
		{"port out of range", func(c *Config) { c.Gateway.Port = 70000 }},
		{"empty admin id", func(c *Config) { c.Gateway.AdminID = "" }},
		{"zero cap", func(c *Config) { c.Gateway.MaxConnsPerIP = 0 }},
		{"zero ping interval", func(c *Config) { c.Gateway.PingInterval = 0 }},
		{"zero pong timeout", func(c *Config) { c.Gateway.PongTimeout = 0 }},
		{"zero payload cap", func(c *Config) { c.Gateway.MaxPayloadBytes = 0 }},
		{"zero queue size", func(c *Config) { c.Gateway.SendQueueSize = 0 }},
		{"zero workers", func(c *Config) { c.Supervisor.Workers = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
