package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutterctl/pkg/config"
	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/discovery"
	"github.com/devicelab-dev/flutterctl/pkg/driver"
	"github.com/devicelab-dev/flutterctl/pkg/executor"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
	"github.com/devicelab-dev/flutterctl/pkg/maestro"
	"github.com/devicelab-dev/flutterctl/pkg/selector"
	"github.com/devicelab-dev/flutterctl/pkg/trace"
)

// runtime wires config, backends, and the executor for one invocation.
type runtime struct {
	cfg     *config.Config
	sink    *trace.FileSink
	adapter *maestro.Adapter
	client  *driver.Client
	exec    *executor.Executor
}

// newRuntime loads configuration, applies flag overrides, and constructs
// every backend that can be constructed. A backend that cannot be set up
// (say, no maestro binary installed) is left out rather than failing the
// whole invocation; the executor reports it per request.
func newRuntime(c *cli.Context) (*runtime, error) {
	dir := c.String("config")
	if dir == "" {
		dir = "."
	}
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, core.ErrConfiguration.WithMessage("cannot load configuration").WithCause(err)
	}
	if v := c.String("app-id"); v != "" {
		cfg.AppID = v
	}
	if v := c.String("device"); v != "" {
		cfg.Device = v
	}
	if v := c.String("maestro-bin"); v != "" {
		cfg.MaestroBin = v
	}
	if v := c.String("vm-service-uri"); v != "" {
		cfg.VMServiceURI = v
	}
	if v := c.String("trace-file"); v != "" {
		cfg.TraceFile = v
	}
	if c.IsSet("persistent") {
		cfg.Persistent = c.Bool("persistent")
	}

	if err := logger.Init(filepath.Join(config.GetLogDir(), "flutterctl.log")); err != nil {
		return nil, err
	}
	logger.SetVerbose(c.Bool("verbose"))

	rt := &runtime{cfg: cfg}

	if cfg.TraceFile != "" {
		sink, err := trace.NewFileSink(cfg.TraceFile)
		if err != nil {
			return nil, err
		}
		rt.sink = sink
	}

	var backends []core.Backend
	adapter, err := maestro.New(maestro.Config{
		BinaryPath: cfg.MaestroBin,
		AppID:      cfg.AppID,
		Device:     cfg.Device,
		FlowDir:    cfg.FlowDir,
		Persistent: cfg.Persistent,
	})
	if err != nil {
		logger.Warn("accessibility layer unavailable: %v", err)
	} else {
		rt.adapter = adapter
		backends = append(backends, adapter)
	}

	rt.client = driver.NewClient(driver.Config{ScreenshotDir: cfg.ScreenshotDir})
	backends = append(backends, rt.client)

	var sink core.TraceSink
	if rt.sink != nil {
		sink = rt.sink
	}
	rt.exec = executor.New(sink, backends...)
	return rt, nil
}

// timeout returns the configured per-attempt timeout.
func (rt *runtime) timeout() time.Duration {
	return time.Duration(rt.cfg.TimeoutSeconds) * time.Second
}

// chain returns the discovery chain for this configuration.
func (rt *runtime) chain() *discovery.Chain {
	return discovery.NewChain(0,
		discovery.NewMDNS(),
		discovery.NewLogScan(nil),
		discovery.NewPortScan(rt.cfg.Host, rt.cfg.PortStart, rt.cfg.PortEnd),
	)
}

// connectWidgetTree establishes the widget-tree session if the request's
// backend order includes it. Connection failure is logged, not fatal: the
// executor records the attempt against the disconnected backend.
func (rt *runtime) connectWidgetTree(ctx context.Context, req *core.AutomationRequest) {
	order, err := selector.SelectOrder(req)
	if err != nil {
		return
	}
	needed := false
	for _, kind := range order {
		if kind == core.BackendWidgetTree {
			needed = true
		}
	}
	if !needed || rt.client.State() == driver.StateConnected {
		return
	}

	if rt.cfg.VMServiceURI != "" {
		err = rt.client.Connect(ctx, rt.cfg.VMServiceURI)
	} else {
		err = rt.client.DiscoverAndConnect(ctx, rt.chain())
	}
	if err != nil {
		logger.Warn("widget-tree session unavailable: %v", err)
	}
}

// execute runs one request end to end.
func (rt *runtime) execute(ctx context.Context, req *core.AutomationRequest) *core.AutomationResult {
	rt.connectWidgetTree(ctx, req)
	return rt.exec.Execute(ctx, req)
}

// close tears down every resource. Always runs, including on signal exit.
func (rt *runtime) close() {
	if rt.client != nil {
		_ = rt.client.Disconnect()
	}
	if rt.adapter != nil {
		_ = rt.adapter.Close()
	}
	if rt.sink != nil {
		_ = rt.sink.Close()
	}
	logger.Close()
}
