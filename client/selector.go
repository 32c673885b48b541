package client

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xsxdot/eureka-client/pkg/registry"
)

// ApplicationSource 按名称获取应用
type ApplicationSource interface {
	GetApplication(name string) *registry.Application
}

// Selector 在应用的UP实例中选择一个
type Selector struct {
	strategy     HAStrategy
	zone         string
	zoneAffinity bool

	mu   sync.Mutex
	rnd  *rand.Rand
	last map[string]string // app -> 上次选中的实例ID
}

// NewSelector 创建选择器。zoneAffinity 为 true 时优先选择 zone 内的实例
func NewSelector(strategy HAStrategy, zone string, zoneAffinity bool, rnd *rand.Rand) *Selector {
	if strategy == "" {
		strategy = HARandom
	}
	if zone == "" {
		zone = registry.DefaultZone
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		strategy:     strategy,
		zone:         zone,
		zoneAffinity: zoneAffinity,
		rnd:          rnd,
		last:         make(map[string]string),
	}
}

// Pick 选择一个实例，没有可用实例时返回nil
func (s *Selector) Pick(apps ApplicationSource, appName string, exclude ...string) *registry.Instance {
	app := apps.GetApplication(appName)
	candidates := s.candidates(app, exclude)

	s.mu.Lock()
	defer s.mu.Unlock()

	var picked *registry.Instance
	switch {
	case len(candidates) == 0:
		return nil
	case len(candidates) == 1:
		picked = candidates[0]
	default:
		picked = s.choose(app, candidates, exclude)
	}
	s.last[app.Name()] = picked.ID()
	return picked
}

func (s *Selector) candidates(app *registry.Application, exclude []string) []*registry.Instance {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	filter := func(list []*registry.Instance) []*registry.Instance {
		out := list[:0]
		for _, ins := range list {
			if !skip[ins.ID()] {
				out = append(out, ins)
			}
		}
		return out
	}

	if !s.zoneAffinity {
		return filter(app.UpInstances())
	}
	if local := filter(app.UpInstancesInZone(s.zone)); len(local) > 0 {
		return local
	}
	return filter(app.UpInstancesNotInZone(s.zone))
}

// choose 调用方持有 s.mu
func (s *Selector) choose(app *registry.Application, candidates []*registry.Instance, exclude []string) *registry.Instance {
	lastID, ok := s.last[app.Name()]
	switch s.strategy {
	case HASticky:
		if ok && !contains(exclude, lastID) {
			if ins := app.GetInstance(lastID); ins != nil && ins.IsUp() {
				return ins
			}
		}
	case HARotate:
		if ok {
			others := make([]*registry.Instance, 0, len(candidates))
			for _, ins := range candidates {
				if ins.ID() != lastID {
					others = append(others, ins)
				}
			}
			if len(others) > 0 {
				return others[s.rnd.Intn(len(others))]
			}
		}
	}
	return candidates[s.rnd.Intn(len(candidates))]
}

// Last 应用上次选中的实例ID
func (s *Selector) Last(appName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.last[strings.ToUpper(appName)]
	return id, ok
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
