package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsxdot/eureka-client/pkg/registry"
)

func TestParseHAStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    HAStrategy
		wantErr bool
	}{
		{"", HARandom, false},
		{"random", HARandom, false},
		{"STICKY", HASticky, false},
		{"stick", HASticky, false},
		{"ROTATE", HARotate, false},
		{"other", HARotate, false},
		{"FASTEST", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHAStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
eureka:
  app_name: orders
  zone: zone-b
  availability_zones:
    zone-a: "http://a1:8761/eureka/, http://a2:8761/eureka/"
    zone-b:
      - http://b1:8761/eureka/
  availability_zones_order: [zone-a, zone-b]
  ha_strategy: STICKY
  request_timeout: 2s
  metadata:
    version: v1
log:
  level: debug
server:
  port: 9000
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	e := cfg.Eureka
	assert.Equal(t, "orders", e.AppName)
	assert.Equal(t, ZoneURLs{"http://a1:8761/eureka/", "http://a2:8761/eureka/"}, e.AvailabilityZones["zone-a"])
	assert.Equal(t, ZoneURLs{"http://b1:8761/eureka/"}, e.AvailabilityZones["zone-b"])
	assert.Equal(t, 2*time.Second, e.RequestTimeout)
	assert.Equal(t, "v1", e.Metadata["version"])

	// 未出现的字段保留默认值
	assert.Equal(t, DefaultInstancePort, e.InstancePort)
	assert.Equal(t, DefaultRenewalIntervalInSecs, e.RenewalIntervalInSecs)
	assert.True(t, e.ShouldRegister)
	assert.True(t, e.PreferSameZone)
	assert.Equal(t, 9000, cfg.Server.Port)

	assert.NoError(t, e.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "eureka.yaml")
	require.NoError(t, os.WriteFile(path, []byte("eureka:\n  app_name: billing\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.Eureka.AppName)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.AppName = "orders"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing app name", func(c *Config) { c.AppName = "" }},
		{"unknown strategy", func(c *Config) { c.HAStrategy = "FASTEST" }},
		{"duration below interval", func(c *Config) { c.DurationInSecs = 10 }},
		{"zero interval", func(c *Config) { c.RenewalIntervalInSecs = 0 }},
		{"port out of range", func(c *Config) { c.InstancePort = 70000 }},
		{"bad data center", func(c *Config) { c.DataCenterName = "Azure" }},
		{"bad protocol", func(c *Config) { c.EurekaProtocol = "ftp" }},
		{"empty zone", func(c *Config) { c.AvailabilityZones = map[string]ZoneURLs{"z1": nil} }},
		{"unknown zone in order", func(c *Config) {
			c.AvailabilityZones = map[string]ZoneURLs{"z1": {"http://a:8761"}}
			c.AvailabilityZonesOrder = []string{"z2"}
		}},
		{"bad cron", func(c *Config) { c.FullSyncCron = "every day" }},
		{"cron without discovery", func(c *Config) {
			c.FullSyncCron = "@every 1m"
			c.ShouldDiscover = false
		}},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, registry.ErrCodeInvalidConfig, registry.GetErrorCode(err))
		})
	}
}

func TestConfigValidateDiscoveryOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShouldRegister = false
	assert.NoError(t, cfg.Validate())
}
