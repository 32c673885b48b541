package registry

import (
	"bytes"
	"encoding/xml"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type applicationsXML struct {
	XMLName       xml.Name         `xml:"applications"`
	VersionsDelta string           `xml:"versions__delta"`
	AppsHashcode  string           `xml:"apps__hashcode"`
	Applications  []applicationXML `xml:"application"`
}

type applicationXML struct {
	XMLName   xml.Name    `xml:"application"`
	Name      string      `xml:"name"`
	Instances []*Instance `xml:"instance"`
}

type instanceXML struct {
	XMLName xml.Name `xml:"instance"`
	Instance
}

// DecodeApplications 解析全量或增量注册表文档（根元素 applications）
func DecodeApplications(data []byte) (*Applications, error) {
	var doc applicationsXML
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, NewRegistryErrorWithCause(ErrCodeDecodeFailed, "cannot decode applications document", err)
	}

	apps := NewApplications()
	apps.SetFingerprint(doc.AppsHashcode, doc.VersionsDelta)
	for _, a := range doc.Applications {
		apps.AddApplication(NewApplication(a.Name, a.Instances...))
	}
	return apps, nil
}

// DecodeApplication 解析单个应用文档（根元素 application）
func DecodeApplication(data []byte) (*Application, error) {
	var doc applicationXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, NewRegistryErrorWithCause(ErrCodeDecodeFailed, "cannot decode application document", err)
	}
	return NewApplication(doc.Name, doc.Instances...), nil
}

// DecodeInstance 解析单个实例文档（根元素 instance）
func DecodeInstance(data []byte) (*Instance, error) {
	var doc instanceXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, NewRegistryErrorWithCause(ErrCodeDecodeFailed, "cannot decode instance document", err)
	}
	ins := doc.Instance
	return &ins, nil
}

type portJSON struct {
	Port    int    `json:"$"`
	Enabled string `json:"@enabled"`
}

type dataCenterJSON struct {
	Class    string            `json:"@class"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type leaseJSON struct {
	RenewalIntervalInSecs int   `json:"renewalIntervalInSecs"`
	DurationInSecs        int   `json:"durationInSecs"`
	RegistrationTimestamp int64 `json:"registrationTimestamp"`
	LastRenewalTimestamp  int64 `json:"lastRenewalTimestamp"`
	EvictionTimestamp     int64 `json:"evictionTimestamp"`
	ServiceUpTimestamp    int64 `json:"serviceUpTimestamp"`
}

type instanceJSON struct {
	InstanceID                    string            `json:"instanceId"`
	HostName                      string            `json:"hostName"`
	App                           string            `json:"app"`
	IPAddr                        string            `json:"ipAddr"`
	Status                        Status            `json:"status"`
	OverriddenStatus              Status            `json:"overriddenstatus"`
	Port                          portJSON          `json:"port"`
	SecurePort                    portJSON          `json:"securePort"`
	CountryID                     int               `json:"countryId"`
	DataCenterInfo                dataCenterJSON    `json:"dataCenterInfo"`
	LeaseInfo                     leaseJSON         `json:"leaseInfo"`
	Metadata                      map[string]string `json:"metadata"`
	HomePageURL                   string            `json:"homePageUrl"`
	StatusPageURL                 string            `json:"statusPageUrl"`
	HealthCheckURL                string            `json:"healthCheckUrl"`
	SecureHealthCheckURL          string            `json:"secureHealthCheckUrl"`
	VipAddress                    string            `json:"vipAddress"`
	SecureVipAddress              string            `json:"secureVipAddress"`
	LastUpdatedTimestamp          string            `json:"lastUpdatedTimestamp"`
	LastDirtyTimestamp            string            `json:"lastDirtyTimestamp"`
	IsCoordinatingDiscoveryServer string            `json:"isCoordinatingDiscoveryServer"`
}

// EncodeInstance 生成注册请求体 {"instance": {...}}
func EncodeInstance(ins *Instance) ([]byte, error) {
	body := instanceJSON{
		InstanceID:       ins.ID(),
		HostName:         ins.HostName,
		App:              ins.App,
		IPAddr:           ins.IPAddr,
		Status:           ins.Status,
		OverriddenStatus: ins.OverriddenStatus,
		Port: portJSON{
			Port:    ins.Port.Port,
			Enabled: strconv.FormatBool(ins.Port.Enabled),
		},
		SecurePort: portJSON{
			Port:    ins.SecurePort.Port,
			Enabled: strconv.FormatBool(ins.SecurePort.Enabled),
		},
		CountryID: ins.CountryID,
		DataCenterInfo: dataCenterJSON{
			Class: ins.DataCenterInfo.Class,
			Name:  ins.DataCenterInfo.Name,
		},
		LeaseInfo: leaseJSON{
			RenewalIntervalInSecs: ins.LeaseInfo.RenewalIntervalInSecs,
			DurationInSecs:        ins.LeaseInfo.DurationInSecs,
			RegistrationTimestamp: ins.LeaseInfo.RegistrationTimestamp,
			LastRenewalTimestamp:  ins.LeaseInfo.LastRenewalTimestamp,
			EvictionTimestamp:     ins.LeaseInfo.EvictionTimestamp,
			ServiceUpTimestamp:    ins.LeaseInfo.ServiceUpTimestamp,
		},
		Metadata:                      ins.Metadata.Copy(),
		HomePageURL:                   ins.HomePageURL,
		StatusPageURL:                 ins.StatusPageURL,
		HealthCheckURL:                ins.HealthCheckURL,
		SecureHealthCheckURL:          ins.SecureHealthCheckURL,
		VipAddress:                    ins.VipAddress,
		SecureVipAddress:              ins.SecureVipAddress,
		LastUpdatedTimestamp:          strconv.FormatInt(ins.LastUpdatedTimestamp, 10),
		LastDirtyTimestamp:            strconv.FormatInt(ins.LastDirtyTimestamp, 10),
		IsCoordinatingDiscoveryServer: strconv.FormatBool(ins.IsCoordinatingDiscoveryServer),
	}
	if len(ins.DataCenterInfo.Metadata) > 0 {
		body.DataCenterInfo.Metadata = ins.DataCenterInfo.Metadata.Copy()
	}

	return json.Marshal(map[string]instanceJSON{"instance": body})
}
