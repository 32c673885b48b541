package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xsxdot/eureka-client/pkg/common"
	"github.com/xsxdot/eureka-client/pkg/registry"
	"github.com/xsxdot/eureka-client/pkg/scheduler"
	"github.com/xsxdot/eureka-client/pkg/utils"
)

// 默认配置
const (
	DefaultEurekaServer          = "http://127.0.0.1:8761/eureka/"
	DefaultEurekaContext         = "/eureka"
	DefaultEurekaProtocol        = "http"
	DefaultRegion                = "us-east-1"
	DefaultInstancePort          = 9090
	DefaultInstanceSecurePort    = 9443
	DefaultRenewalIntervalInSecs = 30
	DefaultDurationInSecs        = 90
	DefaultRequestTimeout        = 5 * time.Second
)

// HAStrategy 多个可用实例时的选择策略
type HAStrategy string

const (
	// HARandom 每次随机选择
	HARandom HAStrategy = "RANDOM"
	// HASticky 一直使用上次选中的实例，直到它不可用
	HASticky HAStrategy = "STICKY"
	// HARotate 每次都换一个与上次不同的实例
	HARotate HAStrategy = "ROTATE"
)

// ParseHAStrategy 解析策略名，兼容 STICK / OTHER 写法，空值为 RANDOM
func ParseHAStrategy(s string) (HAStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(HARandom):
		return HARandom, nil
	case string(HASticky), "STICK":
		return HASticky, nil
	case string(HARotate), "OTHER":
		return HARotate, nil
	default:
		return "", fmt.Errorf("unsupported ha strategy %q", s)
	}
}

// ZoneURLs 可用区内的注册中心地址。yaml 中既可以写成逗号分隔的字符串，也可以写成列表
type ZoneURLs []string

// UnmarshalYAML 同时支持标量与序列
func (z *ZoneURLs) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*z = SplitURLs(value.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*z = list
		return nil
	default:
		return fmt.Errorf("line %d: zone urls must be a string or a list", value.Line)
	}
}

// SplitURLs 按逗号拆分地址并去掉空白项
func SplitURLs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Config 客户端配置
type Config struct {
	// 注册中心地址，三选一：DNS、按可用区配置、逗号分隔的地址列表
	EurekaServer           string              `yaml:"eureka_server"`
	EurekaDomain           string              `yaml:"eureka_domain"`
	Region                 string              `yaml:"region"`
	Zone                   string              `yaml:"zone"`
	AvailabilityZones      map[string]ZoneURLs `yaml:"availability_zones"`
	AvailabilityZonesOrder []string            `yaml:"availability_zones_order"`
	DNSServers             []string            `yaml:"dns_servers"`

	EurekaProtocol          string `yaml:"eureka_protocol" validate:"omitempty,oneof=http https"`
	EurekaBasicAuthUser     string `yaml:"eureka_basic_auth_user"`
	EurekaBasicAuthPassword string `yaml:"eureka_basic_auth_password"`
	EurekaContext           string `yaml:"eureka_context"`

	PreferSameZone bool `yaml:"prefer_same_zone"`
	ShouldRegister bool `yaml:"should_register"`
	ShouldDiscover bool `yaml:"should_discover"`

	// 本实例信息
	AppName                       string            `yaml:"app_name"`
	InstanceID                    string            `yaml:"instance_id"`
	InstanceHost                  string            `yaml:"instance_host"`
	InstanceIP                    string            `yaml:"instance_ip" validate:"omitempty,ip"`
	InstanceIPNetwork             string            `yaml:"instance_ip_network" validate:"omitempty,cidr"`
	InstancePort                  int               `yaml:"instance_port" validate:"gte=0,lte=65535"`
	InstanceUnsecurePortEnabled   bool              `yaml:"instance_unsecure_port_enabled"`
	InstanceSecurePort            int               `yaml:"instance_secure_port" validate:"gte=0,lte=65535"`
	InstanceSecurePortEnabled     bool              `yaml:"instance_secure_port_enabled"`
	DataCenterName                string            `yaml:"data_center_name" validate:"oneof=Netflix Amazon MyOwn"`
	RenewalIntervalInSecs         int               `yaml:"renewal_interval_in_secs" validate:"gt=0"`
	DurationInSecs                int               `yaml:"duration_in_secs" validate:"gt=0"`
	HomePageURL                   string            `yaml:"home_page_url"`
	StatusPageURL                 string            `yaml:"status_page_url"`
	HealthCheckURL                string            `yaml:"health_check_url"`
	SecureHealthCheckURL          string            `yaml:"secure_health_check_url"`
	VipAddress                    string            `yaml:"vip_address"`
	SecureVipAddress              string            `yaml:"secure_vip_address"`
	IsCoordinatingDiscoveryServer bool              `yaml:"is_coordinating_discovery_server"`
	Metadata                      map[string]string `yaml:"metadata"`
	EC2MetadataURL                string            `yaml:"ec2_metadata_url"`

	// 服务发现与调用
	RemoteRegions            []string      `yaml:"remote_regions"`
	HAStrategy               string        `yaml:"ha_strategy"`
	StrictServiceErrorPolicy bool          `yaml:"strict_service_error_policy"`
	PreferIP                 bool          `yaml:"prefer_ip"`
	PreferHTTPS              bool          `yaml:"prefer_https"`
	RequestTimeout           time.Duration `yaml:"request_timeout" validate:"gte=0"`
	WalkRateLimit            float64       `yaml:"walk_rate_limit" validate:"gte=0"`
	WalkRateBurst            int           `yaml:"walk_rate_burst" validate:"gte=0"`
	FullSyncCron             string        `yaml:"full_sync_cron"`

	// availability_zones 在 yaml 中的书写顺序
	zoneKeyOrder []string
}

// UnmarshalYAML 解析配置并记录 availability_zones 的键顺序
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	c.zoneKeyOrder = nil
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "availability_zones" || value.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		zones := value.Content[i+1].Content
		for j := 0; j+1 < len(zones); j += 2 {
			c.zoneKeyOrder = append(c.zoneKeyOrder, zones[j].Value)
		}
	}
	return nil
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		EurekaServer:                DefaultEurekaServer,
		Region:                      DefaultRegion,
		EurekaProtocol:              DefaultEurekaProtocol,
		EurekaContext:               DefaultEurekaContext,
		PreferSameZone:              true,
		ShouldRegister:              true,
		ShouldDiscover:              true,
		InstancePort:                DefaultInstancePort,
		InstanceUnsecurePortEnabled: true,
		InstanceSecurePort:          DefaultInstanceSecurePort,
		DataCenterName:              registry.DataCenterMyOwn,
		RenewalIntervalInSecs:       DefaultRenewalIntervalInSecs,
		DurationInSecs:              DefaultDurationInSecs,
		HAStrategy:                  string(HARandom),
		StrictServiceErrorPolicy:    true,
		RequestTimeout:              DefaultRequestTimeout,
	}
}

// Validate 校验配置，失败时返回 INVALID_CONFIG
func (c *Config) Validate() error {
	if msg, err := utils.ValidateStruct(c); err != nil {
		return registry.NewRegistryErrorWithCause(registry.ErrCodeInvalidConfig, msg, err)
	}

	if _, err := ParseHAStrategy(c.HAStrategy); err != nil {
		return invalidConfig("%v", err)
	}
	if c.ShouldRegister {
		if strings.TrimSpace(c.AppName) == "" {
			return invalidConfig("app_name is required when should_register is true")
		}
		if c.InstancePort <= 0 && !c.InstanceSecurePortEnabled {
			return invalidConfig("instance_port must be greater than 0")
		}
		if c.InstanceSecurePortEnabled && c.InstanceSecurePort <= 0 {
			return invalidConfig("instance_secure_port must be greater than 0 when enabled")
		}
	}
	if c.DurationInSecs < c.RenewalIntervalInSecs {
		return invalidConfig("duration_in_secs (%d) must not be less than renewal_interval_in_secs (%d)",
			c.DurationInSecs, c.RenewalIntervalInSecs)
	}
	for zone, urls := range c.AvailabilityZones {
		if len(urls) == 0 {
			return invalidConfig("availability zone %q has no server url", zone)
		}
	}
	for _, zone := range c.AvailabilityZonesOrder {
		if _, ok := c.AvailabilityZones[zone]; !ok {
			return invalidConfig("availability_zones_order contains unknown zone %q", zone)
		}
	}
	if c.FullSyncCron != "" && !c.ShouldDiscover {
		return invalidConfig("full_sync_cron requires should_discover")
	}
	if c.FullSyncCron != "" {
		if _, err := scheduler.ParseCron(c.FullSyncCron); err != nil {
			return registry.NewRegistryErrorWithCause(registry.ErrCodeInvalidConfig, "invalid full_sync_cron", err)
		}
	}
	return nil
}

// ServerConfig sidecar 的 HTTP 服务配置
type ServerConfig struct {
	Port int `yaml:"port"`
}

// FileConfig 配置文件结构
type FileConfig struct {
	Eureka *Config          `yaml:"eureka"`
	Log    common.LogConfig `yaml:"log"`
	Server ServerConfig     `yaml:"server"`
}

// LoadConfig 从 yaml 文件加载配置，未出现的字段保留默认值
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 yaml 配置内容
func ParseConfig(data []byte) (*FileConfig, error) {
	cfg := &FileConfig{
		Eureka: DefaultConfig(),
		Log:    common.DefaultLogConfig(),
		Server: ServerConfig{Port: 8080},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if cfg.Eureka == nil {
		cfg.Eureka = DefaultConfig()
	}
	return cfg, nil
}
