package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Application 同名实例的集合，按实例ID索引
type Application struct {
	name string

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string
}

// NewApplication 创建应用，名称统一转为大写
func NewApplication(name string, instances ...*Instance) *Application {
	app := &Application{
		name:      strings.ToUpper(name),
		instances: make(map[string]*Instance),
	}
	for _, ins := range instances {
		app.UpdateInstance(ins)
	}
	return app
}

// Name 应用名称（大写）
func (a *Application) Name() string {
	return a.name
}

// Instances 所有实例，按首次加入的顺序
func (a *Application) Instances() []*Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collect(func(*Instance) bool { return true })
}

// UpInstances 所有UP实例
func (a *Application) UpInstances() []*Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collect((*Instance).IsUp)
}

// UpInstancesInZone 指定可用区内的UP实例
func (a *Application) UpInstancesInZone(zone string) []*Instance {
	if zone == "" {
		zone = DefaultZone
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collect(func(i *Instance) bool { return i.IsUp() && i.Zone() == zone })
}

// UpInstancesNotInZone 指定可用区外的UP实例
func (a *Application) UpInstancesNotInZone(zone string) []*Instance {
	if zone == "" {
		zone = DefaultZone
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collect(func(i *Instance) bool { return i.IsUp() && i.Zone() != zone })
}

func (a *Application) collect(keep func(*Instance) bool) []*Instance {
	out := make([]*Instance, 0, len(a.order))
	for _, id := range a.order {
		if ins := a.instances[id]; keep(ins) {
			out = append(out, ins)
		}
	}
	return out
}

// GetInstance 按ID获取实例，不存在返回nil
func (a *Application) GetInstance(id string) *Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.instances[id]
}

// UpdateInstance 新增或覆盖实例
func (a *Application) UpdateInstance(ins *Instance) {
	if ins == nil {
		return
	}
	id := ins.ID()
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.instances[id]; !ok {
		a.order = append(a.order, id)
	}
	a.instances[id] = ins
}

// RemoveInstance 删除实例，实例不存在时不做任何事
func (a *Application) RemoveInstance(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.instances[id]; !ok {
		return
	}
	delete(a.instances, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Len 实例数量
func (a *Application) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.instances)
}

// Applications 注册表：全部应用以及服务端下发的对账指纹
type Applications struct {
	mu            sync.RWMutex
	appsHashcode  string
	versionsDelta string
	apps          []*Application
	index         map[string]*Application
}

// NewApplications 创建空注册表
func NewApplications() *Applications {
	return &Applications{
		index: make(map[string]*Application),
	}
}

// AppsHashcode 服务端给出的应用哈希
func (a *Applications) AppsHashcode() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appsHashcode
}

// VersionsDelta 服务端给出的增量版本
func (a *Applications) VersionsDelta() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.versionsDelta
}

// SetFingerprint 设置对账指纹
func (a *Applications) SetFingerprint(appsHashcode, versionsDelta string) {
	a.mu.Lock()
	a.appsHashcode = appsHashcode
	a.versionsDelta = versionsDelta
	a.mu.Unlock()
}

// Fingerprint 返回 (versionsDelta, appsHashcode)
func (a *Applications) Fingerprint() (string, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.versionsDelta, a.appsHashcode
}

// Applications 所有应用
func (a *Applications) Applications() []*Application {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Application, len(a.apps))
	copy(out, a.apps)
	return out
}

// Len 应用数量
func (a *Applications) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.apps)
}

// AddApplication 加入应用，同名应用会被替换
func (a *Applications) AddApplication(app *Application) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.index[app.Name()]; ok {
		for i, v := range a.apps {
			if v == old {
				a.apps[i] = app
				break
			}
		}
	} else {
		a.apps = append(a.apps, app)
	}
	a.index[app.Name()] = app
}

// GetApplication 按名称获取应用。未知应用返回一个不加入注册表的空占位
func (a *Applications) GetApplication(name string) *Application {
	key := strings.ToUpper(name)
	a.mu.RLock()
	app, ok := a.index[key]
	a.mu.RUnlock()
	if ok {
		return app
	}
	return NewApplication(key)
}

// GetOrCreateApplication 按名称获取应用，不存在时创建并加入注册表
func (a *Applications) GetOrCreateApplication(name string) *Application {
	key := strings.ToUpper(name)
	a.mu.Lock()
	defer a.mu.Unlock()
	if app, ok := a.index[key]; ok {
		return app
	}
	app := NewApplication(key)
	a.apps = append(a.apps, app)
	a.index[key] = app
	return app
}

// HasApplication 应用是否已知
func (a *Applications) HasApplication(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.index[strings.ToUpper(name)]
	return ok
}

// ComputeHash 按状态统计实例数，格式为 STATUS_count_ 并按状态名排序
func (a *Applications) ComputeHash() string {
	counts := make(map[string]int)
	for _, app := range a.Applications() {
		for _, ins := range app.Instances() {
			counts[strings.ToUpper(string(ins.Status))]++
		}
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	var b strings.Builder
	for _, s := range statuses {
		fmt.Fprintf(&b, "%s_%d_", s, counts[s])
	}
	return b.String()
}

// Merge 将增量数据合并进注册表：ADDED/MODIFIED 覆盖写入，DELETED 删除。
// 未知应用会先创建，删除不存在的实例不报错。
func (a *Applications) Merge(delta *Applications) {
	for _, deltaApp := range delta.Applications() {
		for _, ins := range deltaApp.Instances() {
			app := a.GetOrCreateApplication(deltaApp.Name())
			switch ins.ActionType {
			case ActionDeleted:
				app.RemoveInstance(ins.ID())
			default:
				app.UpdateInstance(ins)
			}
		}
	}
}

// InstanceCount 所有应用的实例总数
func (a *Applications) InstanceCount() int {
	n := 0
	for _, app := range a.Applications() {
		n += app.Len()
	}
	return n
}
