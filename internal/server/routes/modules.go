package routes

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/apiproxy"
	"github.com/any-hub/modhost/internal/container"
	"github.com/any-hub/modhost/internal/loader"
	"github.com/any-hub/modhost/internal/logging"
	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/navigation"
	"github.com/any-hub/modhost/internal/server"
	"github.com/any-hub/modhost/internal/store"
)

// Dependencies 汇总路由需要的运行时组件。
type Dependencies struct {
	Loader    *loader.Loader
	Navigator *navigation.Navigator
	Logger    *logrus.Logger
}

// RegisterModuleRoutes 暴露 /-/modules 管理接口：查询、激活、卸载、推送数据与代理调用。
func RegisterModuleRoutes(app *fiber.App, deps Dependencies) {
	if app == nil || deps.Loader == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewDiscardLogger()
	}
	if deps.Navigator == nil {
		deps.Navigator = navigation.New(deps.Loader, deps.Logger)
	}
	h := &handlers{deps: deps}

	app.Get("/-/modules", h.list)
	app.Get("/-/modules/:id", h.detail)
	app.Post("/-/modules/:id/load", h.load)
	app.Post("/-/modules/:id/unload", h.unload)
	app.Post("/-/modules/:id/reload", h.reload)
	app.Patch("/-/modules/:id/data", h.updateData)
	app.Post("/-/modules/:id/api/:endpoint", h.callAPI)
	app.Delete("/-/modules/:id/api-cache", h.clearCache)
	app.Post("/-/surfaces/:surface/activate/:id", h.activate)
	app.Get("/-/surface", h.render)
}

type handlers struct {
	deps Dependencies
}

type modulePayload struct {
	module.Descriptor
	Active *activePayload `json:"active,omitempty"`
}

type activePayload struct {
	InstanceID   string          `json:"instance_id"`
	Target       string          `json:"target"`
	LoadTime     time.Time       `json:"load_time"`
	LoadDuration int64           `json:"load_duration_ms"`
	State        container.State `json:"state"`
	CacheEntries int             `json:"cache_entries"`
	Actions      []store.Action  `json:"actions,omitempty"`
}

type definitionPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

func (h *handlers) list(c fiber.Ctx) error {
	descs := h.deps.Loader.Descriptors()
	mods := make([]modulePayload, 0, len(descs))
	for _, desc := range descs {
		mods = append(mods, h.encode(desc, false))
	}
	defs := module.List()
	definitions := make([]definitionPayload, 0, len(defs))
	for _, def := range defs {
		definitions = append(definitions, definitionPayload{Key: def.Key, Description: def.Description})
	}
	return c.JSON(fiber.Map{
		"modules":     mods,
		"active":      h.deps.Loader.ActiveIDs(),
		"definitions": definitions,
	})
}

func (h *handlers) detail(c fiber.Ctx) error {
	desc, ok := h.deps.Loader.Descriptor(c.Params("id"))
	if !ok {
		return renderError(c, fiber.StatusNotFound, "module_not_registered")
	}
	return c.JSON(h.encode(desc, true))
}

func (h *handlers) load(c fiber.Ctx) error {
	props, err := decodeObject(c, "props")
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_body")
	}
	id := c.Params("id")
	entry, err := h.deps.Loader.LoadModule(c.Context(), id, loader.LoadOptions{Props: props})
	if err != nil {
		return h.fail(c, id, "load", err)
	}
	return c.JSON(h.encodeActive(entry))
}

func (h *handlers) unload(c fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := h.deps.Loader.Descriptor(id); !ok {
		return renderError(c, fiber.StatusNotFound, "module_not_registered")
	}
	unloaded, err := h.deps.Loader.UnloadModule(c.Context(), id)
	if err != nil {
		return h.fail(c, id, "unload", err)
	}
	return c.JSON(fiber.Map{"unloaded": unloaded})
}

func (h *handlers) reload(c fiber.Ctx) error {
	props, err := decodeObject(c, "props")
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_body")
	}
	id := c.Params("id")
	entry, err := h.deps.Loader.ReloadModule(c.Context(), id, loader.LoadOptions{Props: props})
	if err != nil {
		return h.fail(c, id, "reload", err)
	}
	return c.JSON(h.encodeActive(entry))
}

func (h *handlers) updateData(c fiber.Ctx) error {
	id := c.Params("id")
	var data map[string]any
	if err := json.Unmarshal(c.Body(), &data); err != nil || data == nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_body")
	}
	if _, ok := h.deps.Loader.Active(id); !ok {
		return renderError(c, fiber.StatusNotFound, "module_not_active")
	}
	pushed, err := h.deps.Loader.UpdateModuleData(c.Context(), id, data)
	if err != nil {
		return h.fail(c, id, "update_data", err)
	}
	return c.JSON(fiber.Map{"updated": pushed})
}

func (h *handlers) callAPI(c fiber.Ctx) error {
	id := c.Params("id")
	entry, ok := h.deps.Loader.Active(id)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "module_not_active")
	}
	var params map[string]any
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return renderError(c, fiber.StatusBadRequest, "invalid_body")
		}
	}
	useCache, _ := strconv.ParseBool(c.Query("cache"))

	result, err := entry.Container.CallAPI(c.Context(), c.Params("endpoint"), params, useCache)
	if err != nil {
		return h.fail(c, id, "call_api", err)
	}
	return c.JSON(fiber.Map{"result": result})
}

func (h *handlers) clearCache(c fiber.Ctx) error {
	id := c.Params("id")
	entry, ok := h.deps.Loader.Active(id)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "module_not_active")
	}
	purged := entry.Container.ClearAPICache(strings.TrimSpace(c.Query("endpoint")))
	return c.JSON(fiber.Map{"purged": purged})
}

func (h *handlers) activate(c fiber.Ctx) error {
	props, err := decodeObject(c, "props")
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_body")
	}
	id := c.Params("id")
	entry, err := h.deps.Navigator.Activate(c.Context(), c.Params("surface"), id, props)
	if err != nil {
		return h.fail(c, id, "activate", err)
	}
	return c.JSON(h.encodeActive(entry))
}

func (h *handlers) render(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(h.deps.Loader.Root().Render())
}

func (h *handlers) encode(desc module.Descriptor, withActions bool) modulePayload {
	payload := modulePayload{Descriptor: desc}
	if entry, ok := h.deps.Loader.Active(desc.ID); ok {
		active := h.encodeActive(entry)
		if withActions {
			active.Actions = entry.Container.Store().Actions()
		}
		payload.Active = &active
	}
	return payload
}

func (h *handlers) encodeActive(entry *loader.ActiveModule) activePayload {
	return activePayload{
		InstanceID:   entry.Container.InstanceID(),
		Target:       entry.Target.ID(),
		LoadTime:     entry.LoadTime,
		LoadDuration: entry.LoadDuration.Milliseconds(),
		State:        entry.Container.State(),
		CacheEntries: entry.Container.CacheSize(),
	}
}

func (h *handlers) fail(c fiber.Ctx, id, action string, err error) error {
	status, code := classify(err)
	fields := logging.ModuleFields(id, action)
	fields["request_id"] = server.RequestID(c)
	fields["status"] = status
	h.deps.Logger.WithFields(fields).WithError(err).Warn("module request failed")
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

// classify 将领域错误映射为 HTTP 状态码与错误码。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, loader.ErrModuleNotRegistered):
		return fiber.StatusNotFound, "module_not_registered"
	case errors.Is(err, apiproxy.ErrUnknownEndpoint):
		return fiber.StatusBadRequest, "unknown_endpoint"
	case errors.Is(err, store.ErrMalformedPartial):
		return fiber.StatusBadRequest, "invalid_body"
	case errors.Is(err, apiproxy.ErrTransport):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, container.ErrUnmountFailure):
		return fiber.StatusInternalServerError, "unmount_failed"
	case errors.Is(err, container.ErrMountFailure):
		return fiber.StatusInternalServerError, "mount_failed"
	case errors.Is(err, container.ErrInvalidAPIEndpoint):
		return fiber.StatusInternalServerError, "invalid_module_endpoint"
	case errors.Is(err, module.ErrDefinitionNotFound):
		return fiber.StatusInternalServerError, "definition_unavailable"
	default:
		return fiber.StatusInternalServerError, "module_failed"
	}
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// decodeObject 解析可选的 JSON 请求体，并取出 key 对应的对象。空请求体返回 nil。
func decodeObject(c fiber.Ctx, key string) (map[string]any, error) {
	body := c.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	raw, ok := envelope[key]
	if !ok {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
