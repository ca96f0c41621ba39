package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/config"
	"github.com/any-hub/modhost/internal/container"
	"github.com/any-hub/modhost/internal/loader"
	"github.com/any-hub/modhost/internal/logging"
	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/navigation"
	"github.com/any-hub/modhost/internal/server"
	"github.com/any-hub/modhost/internal/server/routes"
	"github.com/any-hub/modhost/internal/surface"
	"github.com/any-hub/modhost/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// rootElementID 是所有模块渲染目标的公共父节点。
const rootElementID = "modhost"

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["modules"] = len(cfg.Modules)
		fields["auto_load"] = config.ModuleIDs(cfg.AutoLoadModules())
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → loader 注册 → 自动激活 → Fiber server，
	// 保证首个请求到达时模块注册表已就绪。
	h := buildHost(ctx, cfg, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["modules"] = len(cfg.Modules)
	fields["active"] = h.loader.ActiveIDs()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, cfg, h, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("modhost", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MODHOST_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MODHOST_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// host 持有进程内唯一的 loader 与 navigator。
type host struct {
	loader    *loader.Loader
	navigator *navigation.Navigator
}

// buildHost 注册全部配置模块并激活 AutoLoad 模块。单个模块失败只记录日志，不影响其它模块。
func buildHost(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *host {
	resolver := module.NewDefaultResolver(
		server.NewBundleClient(cfg),
		uint64(cfg.Global.BundleMaxRetries),
		cfg.Global.InitialBackoff.DurationValue(),
	)
	l := loader.New(loader.Options{
		Root:          surface.NewRoot(rootElementID),
		Resolver:      resolver,
		Client:        server.NewUpstreamClient(cfg),
		Logger:        logger,
		OnModuleEvent: moduleEventLogger(logger),
	})
	nav := navigation.New(l, logger)

	for _, res := range l.RegisterAll(ctx, cfg.Descriptors()) {
		if res.Err != nil {
			logger.WithFields(logging.ModuleFields(res.ModuleID, "register")).WithError(res.Err).Warn("模块注册失败")
		}
	}

	for _, m := range cfg.AutoLoadModules() {
		if _, err := nav.Activate(ctx, m.Surface, m.ID, nil); err != nil {
			logger.WithFields(logging.ModuleFields(m.ID, "auto_load")).WithError(err).Warn("模块自动加载失败")
		}
	}

	return &host{loader: l, navigator: nav}
}

// moduleEventLogger 将模块事件写入结构化日志，module-error 以 Warn 级别输出。
func moduleEventLogger(logger *logrus.Logger) container.EventHandler {
	return func(evt container.Event) {
		entry := logger.WithFields(logging.EventFields(string(evt.Type), evt.ModuleID))
		switch evt.Type {
		case container.EventModuleError:
			entry.WithField("error", evt.Error).Warn("模块事件")
		case container.EventModuleAction:
			entry.WithField("module_action", evt.Action).Info("模块事件")
		default:
			entry.Debug("模块事件")
		}
	}
}

// serve 启动 Fiber 并在收到退出信号后依次关闭 HTTP 服务与全部模块。
func serve(ctx context.Context, cfg *config.Config, h *host, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterModuleRoutes(app, routes.Dependencies{
		Loader:    h.loader,
		Navigator: h.navigator,
		Logger:    logger,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		shutdownModules(h, logger)
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，开始关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Fiber 关闭失败")
	}
	shutdownModules(h, logger)

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownModules(h *host, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.loader.Shutdown(ctx); err != nil {
		logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("模块卸载失败")
	}
}
