package sidecar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/client"
	"github.com/xsxdot/eureka-client/pkg/registry"
	"github.com/xsxdot/eureka-client/pkg/utils"
)

// Agent sidecar 依赖的客户端能力，*client.Client 实现了该接口
type Agent interface {
	State() client.LifecycleState
	Instance() (*registry.Instance, bool)
	Applications(ctx context.Context) (*registry.Applications, error)
	Pick(ctx context.Context, appName string, exclude ...string) (*registry.Instance, error)
	StatusUpdate(ctx context.Context, status registry.Status) error
	DeleteStatusOverride(ctx context.Context) error
}

// InstanceView 实例的 JSON 视图
type InstanceView struct {
	InstanceID string            `json:"instanceId"`
	App        string            `json:"app"`
	HostName   string            `json:"hostName"`
	IPAddr     string            `json:"ipAddr"`
	Status     string            `json:"status"`
	Overridden string            `json:"overriddenStatus,omitempty"`
	Zone       string            `json:"zone"`
	Port       int               `json:"port,omitempty"`
	SecurePort int               `json:"securePort,omitempty"`
	VipAddress string            `json:"vipAddress,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ApplicationView 应用的 JSON 视图
type ApplicationView struct {
	Name      string          `json:"name"`
	Instances []*InstanceView `json:"instances"`
}

func newInstanceView(ins *registry.Instance) *InstanceView {
	v := &InstanceView{
		InstanceID: ins.ID(),
		App:        ins.App,
		HostName:   ins.HostName,
		IPAddr:     ins.IPAddr,
		Status:     string(ins.Status),
		Overridden: string(ins.OverriddenStatus),
		Zone:       ins.Zone(),
		VipAddress: ins.VipAddress,
		Metadata:   ins.Metadata.Copy(),
	}
	if ins.Port.Enabled {
		v.Port = ins.Port.Port
	}
	if ins.SecurePort.Enabled {
		v.SecurePort = ins.SecurePort.Port
	}
	return v
}

func newApplicationView(app *registry.Application) *ApplicationView {
	instances := app.Instances()
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID() < instances[j].ID() })
	v := &ApplicationView{Name: app.Name(), Instances: make([]*InstanceView, 0, len(instances))}
	for _, ins := range instances {
		v.Instances = append(v.Instances, newInstanceView(ins))
	}
	return v
}

// API sidecar 的 HTTP API
type API struct {
	agent  Agent
	logger *zap.Logger
}

// NewAPI 创建 sidecar API
func NewAPI(agent Agent, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		agent:  agent,
		logger: logger,
	}
}

// RegisterRoutes 注册所有API路由
func (api *API) RegisterRoutes(router fiber.Router) {
	router.Get("/health", api.health)
	router.Get("/info", api.info)

	// 本实例状态
	router.Put("/status", api.updateStatus)
	router.Delete("/status", api.deleteStatusOverride)

	// 服务发现
	registryGroup := router.Group("/registry")
	registryGroup.Get("/apps", api.listApplications)
	registryGroup.Get("/apps/:app", api.getApplication)
	registryGroup.Get("/pick/:app", api.pickInstance)

	api.logger.Info("sidecar API路由已注册")
}

// health 健康检查，已开启注册但不处于 ALIVE 时返回 503
func (api *API) health(c *fiber.Ctx) error {
	state := api.agent.State()
	data := fiber.Map{"state": state.String()}

	ins, registering := api.agent.Instance()
	if !registering {
		return utils.SuccessResponse(c, data)
	}
	data["status"] = string(ins.Status)
	if state != client.StateAlive {
		return utils.WithStatus(c, fiber.StatusServiceUnavailable,
			utils.NewResponse(utils.StatusServiceUnavailable, "实例未在注册中心存活", data))
	}
	return utils.SuccessResponse(c, data)
}

// info 本实例注册信息
func (api *API) info(c *fiber.Ctx) error {
	ins, ok := api.agent.Instance()
	if !ok {
		return utils.FailResponse(c, utils.StatusNotFound, "未开启注册")
	}
	return utils.SuccessResponse(c, fiber.Map{
		"state":    api.agent.State().String(),
		"instance": newInstanceView(ins),
	})
}

// updateStatus 修改本实例状态，?value=OUT_OF_SERVICE
func (api *API) updateStatus(c *fiber.Ctx) error {
	raw := c.Query("value")
	status, ok := registry.ParseStatus(raw)
	if !ok {
		return utils.FailResponse(c, utils.StatusBadRequest, fmt.Sprintf("无效的状态: %q", raw))
	}
	if err := api.agent.StatusUpdate(c.UserContext(), status); err != nil {
		return api.fail(c, "修改实例状态失败", err)
	}
	api.logger.Info("实例状态已修改", zap.String("status", string(status)))
	return utils.SuccessResponse(c, fiber.Map{"status": string(status)})
}

// deleteStatusOverride 删除覆盖状态
func (api *API) deleteStatusOverride(c *fiber.Ctx) error {
	if err := api.agent.DeleteStatusOverride(c.UserContext()); err != nil {
		return api.fail(c, "删除覆盖状态失败", err)
	}
	return utils.SuccessResponse(c, nil)
}

// listApplications 本地注册表中的全部应用
func (api *API) listApplications(c *fiber.Ctx) error {
	apps, err := api.agent.Applications(c.UserContext())
	if err != nil {
		return api.fail(c, "获取注册表失败", err)
	}

	list := apps.Applications()
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	views := make([]*ApplicationView, 0, len(list))
	for _, app := range list {
		views = append(views, newApplicationView(app))
	}
	return utils.SuccessResponse(c, fiber.Map{
		"total":        len(views),
		"instances":    apps.InstanceCount(),
		"appsHashcode": apps.ComputeHash(),
		"applications": views,
	})
}

// getApplication 单个应用
func (api *API) getApplication(c *fiber.Ctx) error {
	name := c.Params("app")
	apps, err := api.agent.Applications(c.UserContext())
	if err != nil {
		return api.fail(c, "获取注册表失败", err)
	}
	if !apps.HasApplication(name) {
		return utils.FailResponse(c, utils.StatusNotFound, fmt.Sprintf("应用不存在: %s", name))
	}
	return utils.SuccessResponse(c, newApplicationView(apps.GetApplication(name)))
}

// pickInstance 按负载策略选择一个实例，?exclude=id1,id2
func (api *API) pickInstance(c *fiber.Ctx) error {
	name := c.Params("app")
	var exclude []string
	if raw := c.Query("exclude"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				exclude = append(exclude, id)
			}
		}
	}

	ins, err := api.agent.Pick(c.UserContext(), name, exclude...)
	if err != nil {
		return api.fail(c, "选择实例失败", err)
	}
	if ins == nil {
		return utils.FailResponse(c, utils.StatusNotFound, fmt.Sprintf("应用没有可用实例: %s", name))
	}
	return utils.SuccessResponse(c, newInstanceView(ins))
}

func (api *API) fail(c *fiber.Ctx, msg string, err error) error {
	api.logger.Warn(msg, zap.Error(err))

	code := utils.StatusInternalError
	switch {
	case errors.Is(err, client.ErrNotStarted), errors.Is(err, registry.ErrDiscoveryDisabled):
		code = utils.StatusBadRequest
	case errors.Is(err, registry.ErrConnectivityExhausted):
		code = utils.StatusServiceUnavailable
	}
	return utils.FailResponse(c, code, fmt.Sprintf("%s: %v", msg, err))
}
