package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xsxdot/eureka-client/pkg/httpclient"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

// eurekaAPI 单个注册中心节点上的 REST 操作，不做故障转移
type eurekaAPI struct {
	doer    httpclient.Doer
	timeout time.Duration
}

func newEurekaAPI(doer httpclient.Doer, timeout time.Duration) *eurekaAPI {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &eurekaAPI{doer: doer, timeout: timeout}
}

// endpoint 拼接 {server}/{path}[?query]
func endpoint(serverURL, path string, query url.Values) string {
	u := strings.TrimSuffix(serverURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func regionQuery(regions []string) url.Values {
	if len(regions) == 0 {
		return nil
	}
	return url.Values{"regions": {strings.Join(regions, ",")}}
}

func (a *eurekaAPI) do(ctx context.Context, method, target string, headers map[string]string, body []byte) (*httpclient.Response, error) {
	return a.doer.Do(ctx, &httpclient.Request{
		Method:  method,
		URL:     target,
		Headers: headers,
		Body:    body,
		Timeout: a.timeout,
	})
}

func (a *eurekaAPI) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := a.do(ctx, "GET", target, map[string]string{"Accept": "application/xml"}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func instancePath(app, instanceID string) string {
	return "apps/" + url.PathEscape(app) + "/" + url.PathEscape(instanceID)
}

// register POST apps/{app}
func (a *eurekaAPI) register(ctx context.Context, serverURL string, ins *registry.Instance) error {
	body, err := registry.EncodeInstance(ins)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, "POST", endpoint(serverURL, "apps/"+url.PathEscape(ins.App), nil),
		map[string]string{"Content-Type": "application/json"}, body)
	return err
}

// cancel DELETE apps/{app}/{id}
func (a *eurekaAPI) cancel(ctx context.Context, serverURL, app, instanceID string) error {
	_, err := a.do(ctx, "DELETE", endpoint(serverURL, instancePath(app, instanceID), nil), nil, nil)
	return err
}

// sendHeartbeat PUT apps/{app}/{id}?status=..&lastDirtyTimestamp=..[&overriddenstatus=..]
func (a *eurekaAPI) sendHeartbeat(ctx context.Context, serverURL, app, instanceID string,
	lastDirtyTimestamp int64, status, overriddenStatus registry.Status) error {
	query := url.Values{
		"status":             {string(status)},
		"lastDirtyTimestamp": {strconv.FormatInt(lastDirtyTimestamp, 10)},
	}
	if overriddenStatus != "" && overriddenStatus != registry.StatusUnknown {
		query.Set("overriddenstatus", string(overriddenStatus))
	}
	_, err := a.do(ctx, "PUT", endpoint(serverURL, instancePath(app, instanceID), query), nil, nil)
	return err
}

// statusUpdate PUT apps/{app}/{id}/status?value=..&lastDirtyTimestamp=..
func (a *eurekaAPI) statusUpdate(ctx context.Context, serverURL, app, instanceID string,
	lastDirtyTimestamp int64, status registry.Status) error {
	query := url.Values{
		"value":              {string(status)},
		"lastDirtyTimestamp": {strconv.FormatInt(lastDirtyTimestamp, 10)},
	}
	_, err := a.do(ctx, "PUT", endpoint(serverURL, instancePath(app, instanceID)+"/status", query), nil, nil)
	return err
}

// deleteStatusOverride DELETE apps/{app}/{id}/status?lastDirtyTimestamp=..
func (a *eurekaAPI) deleteStatusOverride(ctx context.Context, serverURL, app, instanceID string, lastDirtyTimestamp int64) error {
	query := url.Values{"lastDirtyTimestamp": {strconv.FormatInt(lastDirtyTimestamp, 10)}}
	_, err := a.do(ctx, "DELETE", endpoint(serverURL, instancePath(app, instanceID)+"/status", query), nil, nil)
	return err
}

func (a *eurekaAPI) getApplicationsAt(ctx context.Context, serverURL, path string, regions []string) (*registry.Applications, error) {
	body, err := a.get(ctx, endpoint(serverURL, path, regionQuery(regions)))
	if err != nil {
		return nil, err
	}
	return registry.DecodeApplications(body)
}

// getApplications GET apps/
func (a *eurekaAPI) getApplications(ctx context.Context, serverURL string, regions []string) (*registry.Applications, error) {
	return a.getApplicationsAt(ctx, serverURL, "apps/", regions)
}

// getDelta GET apps/delta
func (a *eurekaAPI) getDelta(ctx context.Context, serverURL string, regions []string) (*registry.Applications, error) {
	return a.getApplicationsAt(ctx, serverURL, "apps/delta", regions)
}

// getVIP GET vips/{vip}
func (a *eurekaAPI) getVIP(ctx context.Context, serverURL, vip string, regions []string) (*registry.Applications, error) {
	return a.getApplicationsAt(ctx, serverURL, "vips/"+url.PathEscape(vip), regions)
}

// getSecureVIP GET svips/{svip}
func (a *eurekaAPI) getSecureVIP(ctx context.Context, serverURL, svip string, regions []string) (*registry.Applications, error) {
	return a.getApplicationsAt(ctx, serverURL, "svips/"+url.PathEscape(svip), regions)
}

// getApplication GET apps/{app}
func (a *eurekaAPI) getApplication(ctx context.Context, serverURL, app string) (*registry.Application, error) {
	body, err := a.get(ctx, endpoint(serverURL, "apps/"+url.PathEscape(app), nil))
	if err != nil {
		return nil, err
	}
	return registry.DecodeApplication(body)
}

// getAppInstance GET apps/{app}/{id}
func (a *eurekaAPI) getAppInstance(ctx context.Context, serverURL, app, instanceID string) (*registry.Instance, error) {
	body, err := a.get(ctx, endpoint(serverURL, instancePath(app, instanceID), nil))
	if err != nil {
		return nil, err
	}
	return registry.DecodeInstance(body)
}

// getInstance GET instances/{id}
func (a *eurekaAPI) getInstance(ctx context.Context, serverURL, instanceID string) (*registry.Instance, error) {
	body, err := a.get(ctx, endpoint(serverURL, "instances/"+url.PathEscape(instanceID), nil))
	if err != nil {
		return nil, err
	}
	return registry.DecodeInstance(body)
}
