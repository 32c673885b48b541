package registry

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Status 实例状态
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusStarting     Status = "STARTING"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

// ParseStatus 解析状态字符串，大小写不敏感
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusUp, StatusDown, StatusStarting, StatusOutOfService, StatusUnknown:
		return st, true
	default:
		return "", false
	}
}

// ActionType 增量数据中实例的变更类型
type ActionType string

const (
	ActionAdded    ActionType = "ADDED"
	ActionModified ActionType = "MODIFIED"
	ActionDeleted  ActionType = "DELETED"
)

const (
	// DefaultZone 未配置可用区时使用的可用区
	DefaultZone = "default"

	DataCenterMyOwn   = "MyOwn"
	DataCenterAmazon  = "Amazon"
	DataCenterNetflix = "Netflix"

	DefaultDataCenterClass = "com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo"
	AmazonDataCenterClass  = "com.netflix.appinfo.AmazonInfo"

	// AvailabilityZoneKey Amazon 数据中心元数据中的可用区键
	AvailabilityZoneKey = "availability-zone"
	// ZoneMetadataKey 实例元数据中的可用区键
	ZoneMetadataKey = "zone"
)

// Metadata 实例元数据，XML 中每个子元素是一个键值对
type Metadata map[string]string

// UnmarshalXML 将 <metadata><k>v</k>...</metadata> 解析为 map
func (m *Metadata) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	out := Metadata{}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			out[t.Name.Local] = v
		case xml.EndElement:
			*m = out
			return nil
		}
	}
}

// Copy 复制元数据
func (m Metadata) Copy() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PortWrapper 端口及其启用状态
type PortWrapper struct {
	Port    int  `xml:",chardata"`
	Enabled bool `xml:"enabled,attr"`
}

// DataCenterInfo 数据中心描述
type DataCenterInfo struct {
	Class    string   `xml:"class,attr"`
	Name     string   `xml:"name"`
	Metadata Metadata `xml:"metadata"`
}

// LeaseInfo 租约信息，时间戳均为毫秒
type LeaseInfo struct {
	RenewalIntervalInSecs int   `xml:"renewalIntervalInSecs"`
	DurationInSecs        int   `xml:"durationInSecs"`
	RegistrationTimestamp int64 `xml:"registrationTimestamp"`
	LastRenewalTimestamp  int64 `xml:"lastRenewalTimestamp"`
	RenewalTimestamp      int64 `xml:"renewalTimestamp"`
	EvictionTimestamp     int64 `xml:"evictionTimestamp"`
	ServiceUpTimestamp    int64 `xml:"serviceUpTimestamp"`
}

// Instance 注册表中的一个服务实例
type Instance struct {
	InstanceID                    string         `xml:"instanceId"`
	Sid                           string         `xml:"sid"`
	App                           string         `xml:"app"`
	AppGroupName                  string         `xml:"appGroupName"`
	IPAddr                        string         `xml:"ipAddr"`
	Port                          PortWrapper    `xml:"port"`
	SecurePort                    PortWrapper    `xml:"securePort"`
	HomePageURL                   string         `xml:"homePageUrl"`
	StatusPageURL                 string         `xml:"statusPageUrl"`
	HealthCheckURL                string         `xml:"healthCheckUrl"`
	SecureHealthCheckURL          string         `xml:"secureHealthCheckUrl"`
	VipAddress                    string         `xml:"vipAddress"`
	SecureVipAddress              string         `xml:"secureVipAddress"`
	CountryID                     int            `xml:"countryId"`
	DataCenterInfo                DataCenterInfo `xml:"dataCenterInfo"`
	HostName                      string         `xml:"hostName"`
	Status                        Status         `xml:"status"`
	OverriddenStatus              Status         `xml:"overriddenstatus"`
	LeaseInfo                     LeaseInfo      `xml:"leaseInfo"`
	IsCoordinatingDiscoveryServer bool           `xml:"isCoordinatingDiscoveryServer"`
	Metadata                      Metadata       `xml:"metadata"`
	LastUpdatedTimestamp          int64          `xml:"lastUpdatedTimestamp"`
	LastDirtyTimestamp            int64          `xml:"lastDirtyTimestamp"`
	ActionType                    ActionType     `xml:"actionType"`
	AsgName                       string         `xml:"asgName"`
}

// DeriveInstanceID 按 {host}:{小写应用名}:{端口} 生成实例ID
func DeriveInstanceID(host, app string, port int) string {
	return fmt.Sprintf("%s:%s:%d", host, strings.ToLower(app), port)
}

// ID 返回实例ID，未显式设置时按主机、应用名、端口推导
func (i *Instance) ID() string {
	if i.InstanceID != "" {
		return i.InstanceID
	}
	host := i.HostName
	if host == "" {
		host = i.IPAddr
	}
	return DeriveInstanceID(host, i.App, i.Port.Port)
}

// Zone 实例所在可用区
func (i *Instance) Zone() string {
	if i.DataCenterInfo.Name == DataCenterAmazon {
		if z := i.DataCenterInfo.Metadata[AvailabilityZoneKey]; z != "" {
			return z
		}
	}
	if z := i.Metadata[ZoneMetadataKey]; z != "" {
		return z
	}
	return DefaultZone
}

// IsUp 实例是否处于UP状态
func (i *Instance) IsUp() bool {
	return i.Status == StatusUp
}

// Copy 深拷贝实例
func (i *Instance) Copy() *Instance {
	c := *i
	c.Metadata = i.Metadata.Copy()
	c.DataCenterInfo.Metadata = i.DataCenterInfo.Metadata.Copy()
	return &c
}
