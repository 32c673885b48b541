package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xsxdot/eureka-client/pkg/ec2meta"
	"github.com/xsxdot/eureka-client/pkg/registry"
	"github.com/xsxdot/eureka-client/pkg/utils"
)

// managementPortKey 元数据中的管理端口键
const managementPortKey = "management.port"

// EC2MetadataLoader 读取 Amazon 数据中心的实例元数据
type EC2MetadataLoader interface {
	LoadAll(ctx context.Context) map[string]string
}

// instanceDraft 本实例的注册信息。状态和时间戳原地修改，每次使用都复制一份快照
type instanceDraft struct {
	mu  sync.Mutex
	ins *registry.Instance
}

func newInstanceDraft(ins *registry.Instance) *instanceDraft {
	return &instanceDraft{ins: ins}
}

func (d *instanceDraft) snapshot() *registry.Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ins.Copy()
}

// stamp 设置状态并刷新 lastUpdated/lastDirty，返回修改后的快照
func (d *instanceDraft) stamp(status, overridden registry.Status) *registry.Instance {
	now := time.Now().UnixMilli()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ins.Status = status
	if overridden != "" {
		d.ins.OverriddenStatus = overridden
	}
	d.ins.LastUpdatedTimestamp = now
	d.ins.LastDirtyTimestamp = now
	return d.ins.Copy()
}

// setStatus 只修改状态，返回修改后的快照
func (d *instanceDraft) setStatus(status registry.Status) *registry.Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ins.Status = status
	return d.ins.Copy()
}

// addressResolver 解析本实例的 (ip, host)
type addressResolver struct {
	// outboundIP 主机名无法解析出IP时，通过到注册中心的路由获取本地出口地址
	outboundIP func(ctx context.Context) (string, error)
}

func (r addressResolver) resolve(ctx context.Context, cfg *Config) (string, string) {
	ip, host := cfg.InstanceIP, cfg.InstanceHost
	switch {
	case host == "" && ip == "":
		ip, host = utils.GetIPAndHost(cfg.InstanceIPNetwork)
	case ip == "":
		ip = utils.IPByHost(host)
		if !utils.IsIP(ip) && r.outboundIP != nil {
			if out, err := r.outboundIP(ctx); err == nil {
				ip = out
			}
		}
	case host == "":
		host = utils.HostByIP(ip)
	}
	return ip, host
}

// buildInstance 根据配置生成注册信息
func buildInstance(ctx context.Context, cfg *Config, addr addressResolver, ec2 EC2MetadataLoader) (*registry.Instance, error) {
	app := strings.ToUpper(strings.TrimSpace(cfg.AppName))
	if app == "" {
		return nil, registry.NewRegistryError(registry.ErrCodeInvalidInstance, "app name is empty")
	}

	ip, host := addr.resolve(ctx, cfg)

	dataCenter := registry.DataCenterInfo{
		Name:  cfg.DataCenterName,
		Class: registry.DefaultDataCenterClass,
	}
	if dataCenter.Name == "" {
		dataCenter.Name = registry.DataCenterMyOwn
	}
	if dataCenter.Name == registry.DataCenterAmazon {
		dataCenter.Class = registry.AmazonDataCenterClass
		if ec2 != nil {
			dataCenter.Metadata = registry.Metadata(ec2.LoadAll(ctx)).Copy()
			if v := dataCenter.Metadata[ec2meta.KeyLocalIPv4]; v != "" {
				ip = v
			}
			if v := dataCenter.Metadata[ec2meta.KeyLocalHostname]; v != "" {
				host = v
			}
		}
	}
	if host == "" && ip == "" {
		return nil, registry.NewRegistryError(registry.ErrCodeInvalidInstance, "cannot determine instance address")
	}
	if host == "" {
		host = ip
	}

	port := cfg.InstancePort
	metadata := registry.Metadata{managementPortKey: strconv.Itoa(port)}
	if cfg.Zone != "" {
		metadata[registry.ZoneMetadataKey] = cfg.Zone
	}
	for k, v := range cfg.Metadata {
		metadata[k] = v
	}

	vip := cfg.VipAddress
	if vip == "" {
		vip = strings.ToLower(app)
	}
	secureVip := cfg.SecureVipAddress
	if secureVip == "" {
		secureVip = strings.ToLower(app)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = registry.DeriveInstanceID(host, app, port)
	}

	return &registry.Instance{
		InstanceID:       instanceID,
		App:              app,
		IPAddr:           ip,
		HostName:         host,
		Status:           registry.StatusUp,
		OverriddenStatus: registry.StatusUnknown,
		Port: registry.PortWrapper{
			Port:    port,
			Enabled: cfg.InstanceUnsecurePortEnabled,
		},
		SecurePort: registry.PortWrapper{
			Port:    cfg.InstanceSecurePort,
			Enabled: cfg.InstanceSecurePortEnabled,
		},
		CountryID:      1,
		DataCenterInfo: dataCenter,
		LeaseInfo: registry.LeaseInfo{
			RenewalIntervalInSecs: cfg.RenewalIntervalInSecs,
			DurationInSecs:        cfg.DurationInSecs,
		},
		Metadata:                      metadata,
		HomePageURL:                   instancePageURL(cfg.HomePageURL, host, port, ""),
		StatusPageURL:                 instancePageURL(cfg.StatusPageURL, host, port, "info"),
		HealthCheckURL:                instancePageURL(cfg.HealthCheckURL, host, port, "health"),
		SecureHealthCheckURL:          cfg.SecureHealthCheckURL,
		VipAddress:                    vip,
		SecureVipAddress:              secureVip,
		IsCoordinatingDiscoveryServer: cfg.IsCoordinatingDiscoveryServer,
	}, nil
}

// instancePageURL 绝对地址原样保留，相对地址拼到 http://host:port/ 之后
func instancePageURL(raw, host string, port int, def string) string {
	switch {
	case raw == "":
		return fmt.Sprintf("http://%s:%d/%s", host, port, def)
	case strings.HasPrefix(raw, "http"):
		return raw
	case strings.HasPrefix(raw, "/"):
		return fmt.Sprintf("http://%s:%d%s", host, port, raw)
	default:
		return fmt.Sprintf("http://%s:%d/%s", host, port, raw)
	}
}
