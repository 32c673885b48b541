package client

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/xsxdot/eureka-client/pkg/dnstxt"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

// ServerTopology 注册中心节点的可用区拓扑，构造后只读
type ServerTopology struct {
	homeZone string
	zones    []string
	servers  map[string][]string
}

// NewServerTopology 按 DNS、可用区配置、地址列表的优先级构建拓扑
func NewServerTopology(ctx context.Context, cfg *Config, resolver dnstxt.Resolver) (*ServerTopology, error) {
	t := &ServerTopology{servers: make(map[string][]string)}

	var err error
	switch {
	case cfg.EurekaDomain != "":
		err = t.loadFromDNS(ctx, cfg, resolver)
	case len(cfg.AvailabilityZones) > 0:
		err = t.loadFromZones(cfg)
	default:
		err = t.loadFromList(cfg)
	}
	if err != nil {
		return nil, err
	}

	t.homeZone = cfg.Zone
	if t.homeZone == "" {
		t.homeZone = t.zones[0]
	}
	return t, nil
}

func (t *ServerTopology) addZone(zone string, rawURLs []string, cfg *Config) error {
	urls := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := formatURL(raw, cfg)
		if err != nil {
			return err
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return invalidConfig("availability zone %q has no server url", zone)
	}
	if _, ok := t.servers[zone]; !ok {
		t.zones = append(t.zones, zone)
	}
	t.servers[zone] = append(t.servers[zone], urls...)
	return nil
}

// loadFromDNS 先查 txt.{region}.{domain} 得到可用区记录，再逐个查 txt.{zoneRecord} 得到主机
func (t *ServerTopology) loadFromDNS(ctx context.Context, cfg *Config, resolver dnstxt.Resolver) error {
	if resolver == nil {
		return invalidConfig("eureka_domain is set but no dns resolver is available")
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	zoneRecords, err := lookupFields(ctx, resolver, fmt.Sprintf("txt.%s.%s", region, cfg.EurekaDomain))
	if err != nil {
		return err
	}
	for _, record := range zoneRecords {
		zone := strings.SplitN(record, ".", 2)[0]
		hosts, err := lookupFields(ctx, resolver, "txt."+record)
		if err != nil {
			return err
		}
		if err := t.addZone(zone, hosts, cfg); err != nil {
			return err
		}
	}
	return nil
}

func lookupFields(ctx context.Context, resolver dnstxt.Resolver, name string) ([]string, error) {
	records, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		return nil, registry.NewRegistryErrorWithCause(registry.ErrCodeInvalidConfig,
			fmt.Sprintf("resolve %s failed", name), err)
	}
	var fields []string
	for _, r := range records {
		fields = append(fields, strings.Fields(r)...)
	}
	if len(fields) == 0 {
		return nil, invalidConfig("dns record %s is empty", name)
	}
	return fields, nil
}

func (t *ServerTopology) loadFromZones(cfg *Config) error {
	order := append([]string(nil), cfg.AvailabilityZonesOrder...)
	seen := make(map[string]bool, len(order))
	for _, z := range order {
		seen[z] = true
	}
	// 未在 availability_zones_order 中列出的按 yaml 书写顺序，代码里构造的配置按名称排序
	for _, z := range cfg.zoneKeyOrder {
		if _, ok := cfg.AvailabilityZones[z]; ok && !seen[z] {
			seen[z] = true
			order = append(order, z)
		}
	}
	var rest []string
	for z := range cfg.AvailabilityZones {
		if !seen[z] {
			rest = append(rest, z)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	for _, zone := range order {
		urls, ok := cfg.AvailabilityZones[zone]
		if !ok {
			return invalidConfig("availability_zones_order contains unknown zone %q", zone)
		}
		if err := t.addZone(zone, urls, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (t *ServerTopology) loadFromList(cfg *Config) error {
	raw := cfg.EurekaServer
	if strings.TrimSpace(raw) == "" {
		raw = DefaultEurekaServer
	}
	zone := cfg.Zone
	if zone == "" {
		zone = registry.DefaultZone
	}
	return t.addZone(zone, SplitURLs(raw), cfg)
}

// HomeZone 本实例所在可用区
func (t *ServerTopology) HomeZone() string {
	return t.homeZone
}

// Zones 按配置顺序排列的可用区
func (t *ServerTopology) Zones() []string {
	return append([]string(nil), t.zones...)
}

// ZoneServers 指定可用区的节点地址
func (t *ServerTopology) ZoneServers(zone string) []string {
	return append([]string(nil), t.servers[zone]...)
}

// ServersInZone 本可用区的节点地址
func (t *ServerTopology) ServersInZone() []string {
	return t.ZoneServers(t.homeZone)
}

// ServersNotInZone 其余可用区的节点地址，按可用区顺序拼接
func (t *ServerTopology) ServersNotInZone() []string {
	var out []string
	for _, z := range t.zones {
		if z != t.homeZone {
			out = append(out, t.servers[z]...)
		}
	}
	return out
}

// Servers 所有节点地址
func (t *ServerTopology) Servers() []string {
	var out []string
	for _, z := range t.zones {
		out = append(out, t.servers[z]...)
	}
	return out
}

// formatURL 规范化节点地址为 scheme://[user[:password]@]host[:port]/context，结尾不带 /
func formatURL(raw string, cfg *Config) (string, error) {
	rest := strings.TrimSuffix(strings.TrimSpace(raw), "/")

	scheme := cfg.EurekaProtocol
	if scheme == "" {
		scheme = DefaultEurekaProtocol
	}
	if i := strings.Index(rest, "://"); i > 0 {
		scheme, rest = rest[:i], rest[i+3:]
	}

	cred := ""
	if i := strings.LastIndex(rest, "@"); i > 0 {
		cred, rest = rest[:i+1], rest[i+1:]
	} else if cfg.EurekaBasicAuthUser != "" {
		cred = url.QueryEscape(cfg.EurekaBasicAuthUser)
		if cfg.EurekaBasicAuthPassword != "" {
			cred += ":" + url.QueryEscape(cfg.EurekaBasicAuthPassword)
		}
		cred += "@"
	}

	if rest == "" || strings.HasPrefix(rest, "/") {
		return "", invalidConfig("server url %q has no host", raw)
	}
	if !strings.Contains(rest, "/") {
		ctxPath := cfg.EurekaContext
		if ctxPath == "" {
			ctxPath = DefaultEurekaContext
		}
		if !strings.HasPrefix(ctxPath, "/") {
			ctxPath = "/" + ctxPath
		}
		rest += strings.TrimSuffix(ctxPath, "/")
	}

	out := scheme + "://" + cred + rest
	u, err := url.Parse(out)
	if err != nil {
		return "", registry.NewRegistryErrorWithCause(registry.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid server url %q", raw), err)
	}
	if u.Host == "" {
		return "", invalidConfig("server url %q has no host", raw)
	}
	return out, nil
}

func invalidConfig(format string, args ...any) error {
	return registry.NewRegistryError(registry.ErrCodeInvalidConfig, fmt.Sprintf(format, args...))
}
