package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0] != "mangatek.com" {
		t.Errorf("Hosts = %v", cfg.Hosts)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.CacheCapacity != 1024 || cfg.CacheTTL != 5*time.Minute {
		t.Errorf("cache config = %d/%v", cfg.CacheCapacity, cfg.CacheTTL)
	}
	if !cfg.RenderEnabled || !cfg.SolverEnabled {
		t.Error("both escalation strategies should default on")
	}
	if cfg.RatePerMinute != 15 {
		t.Errorf("RatePerMinute = %d", cfg.RatePerMinute)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("hosts", []string{"primary.example", "backup.example"})
	v.Set("retries", 3)
	v.Set("cache_ttl", "90s")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hosts) != 2 {
		t.Errorf("Hosts = %v", cfg.Hosts)
	}
	if cfg.Retries != 3 {
		t.Errorf("Retries = %d", cfg.Retries)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"empty hosts", "hosts", []string{}},
		{"zero timeout", "timeout", 0},
		{"negative retries", "retries", -1},
		{"zero cache capacity", "cache_capacity", 0},
		{"shrinking backoff", "backoff_multiplier", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)
			if _, err := Load(v); err == nil {
				t.Errorf("Load accepted %s = %v", tt.key, tt.value)
			}
		})
	}
}
