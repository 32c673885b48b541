package client

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/xsxdot/eureka-client/pkg/registry"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// fakeEureka 内存中的注册中心，只返回预先设置的文档并记录收到的请求
type fakeEureka struct {
	srv *httptest.Server

	mu        sync.Mutex
	requests  []recordedRequest
	full      string
	delta     string
	documents map[string]string
	down      bool
	status    map[string]int // "METHOD path" -> 状态码
}

func newFakeEureka(t *testing.T) *fakeEureka {
	t.Helper()
	f := &fakeEureka{
		full:      appsXML("1", "", nil),
		delta:     appsXML("1", "", nil),
		documents: make(map[string]string),
		status:    make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEureka) URL() string {
	return f.srv.URL + "/eureka/"
}

func (f *fakeEureka) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/eureka/")

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: path, Query: r.URL.Query(), Body: body})
	down := f.down
	code, hasCode := f.status[r.Method+" "+path]
	full, delta := f.full, f.delta
	doc, hasDoc := f.documents[path]
	f.mu.Unlock()

	switch {
	case down:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case hasCode:
		w.WriteHeader(code)
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "apps/":
		writeXML(w, full)
	case r.Method == http.MethodGet && path == "apps/delta":
		writeXML(w, delta)
	case r.Method == http.MethodGet && hasDoc:
		writeXML(w, doc)
	case r.Method == http.MethodGet:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, doc)
}

func (f *fakeEureka) setFull(doc string) {
	f.mu.Lock()
	f.full = doc
	f.mu.Unlock()
}

func (f *fakeEureka) setDelta(doc string) {
	f.mu.Lock()
	f.delta = doc
	f.mu.Unlock()
}

func (f *fakeEureka) setDocument(path, doc string) {
	f.mu.Lock()
	f.documents[path] = doc
	f.mu.Unlock()
}

func (f *fakeEureka) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeEureka) setStatus(method, path string, code int) {
	f.mu.Lock()
	f.status[method+" "+path] = code
	f.mu.Unlock()
}

func (f *fakeEureka) takeRequests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.requests
	f.requests = nil
	return out
}

func (f *fakeEureka) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func instanceXML(ins *registry.Instance) string {
	var md strings.Builder
	for k, v := range ins.Metadata {
		fmt.Fprintf(&md, "<%s>%s</%s>", k, v, k)
	}
	return fmt.Sprintf(`<instance>
  <instanceId>%s</instanceId>
  <hostName>%s</hostName>
  <app>%s</app>
  <ipAddr>%s</ipAddr>
  <status>%s</status>
  <overriddenstatus>UNKNOWN</overriddenstatus>
  <port enabled="%t">%d</port>
  <securePort enabled="%t">%d</securePort>
  <countryId>1</countryId>
  <dataCenterInfo class="com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo"><name>MyOwn</name></dataCenterInfo>
  <metadata>%s</metadata>
  <actionType>%s</actionType>
</instance>`, ins.InstanceID, ins.HostName, ins.App, ins.IPAddr, ins.Status,
		ins.Port.Enabled, ins.Port.Port, ins.SecurePort.Enabled, ins.SecurePort.Port, md.String(), ins.ActionType)
}

// appsXML 按应用分组生成 applications 文档
func appsXML(versions, hash string, instances []*registry.Instance) string {
	var order []string
	groups := make(map[string][]*registry.Instance)
	for _, ins := range instances {
		if _, ok := groups[ins.App]; !ok {
			order = append(order, ins.App)
		}
		groups[ins.App] = append(groups[ins.App], ins)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<applications><versions__delta>%s</versions__delta><apps__hashcode>%s</apps__hashcode>", versions, hash)
	for _, app := range order {
		fmt.Fprintf(&b, "<application><name>%s</name>", app)
		for _, ins := range groups[app] {
			b.WriteString(instanceXML(ins))
		}
		b.WriteString("</application>")
	}
	b.WriteString("</applications>")
	return b.String()
}

func withAction(ins *registry.Instance, action registry.ActionType) *registry.Instance {
	c := ins.Copy()
	c.ActionType = action
	return c
}
