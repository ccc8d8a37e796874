// lightd 在单进程内同时运行应用核与网络核，两核经进程内环回链路互联。
// 开发与演示用。
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/driver"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/link"
	"github.com/hongjun500/lightcore/internal/matter"
	"github.com/hongjun500/lightcore/internal/netcore"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/internal/settings"
	"github.com/hongjun500/lightcore/internal/thread"
	"github.com/hongjun500/lightcore/pkg/logger"
)

type processRebooter struct{}

func (processRebooter) Reboot() {
	logger.M("lightd").Warnw("rebooting")
	os.Exit(0)
}

func main() {
	cfgPath := flag.String("config", "", "device profile (YAML), empty = factory defaults")
	dataDir := flag.String("data", "", "settings snapshot directory, empty = in-memory")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := observe.StartHTTP(cfg.MetricsAddr); err != nil {
				logger.M("lightd").Errorw("metrics_http_exit", "err", err)
			}
		}()
	}

	appCh, netCh := link.NewLoopbackPair()
	opts := ipc.Options{
		BindTimeout: cfg.IPC.BindTimeout,
		AckTimeout:  cfg.IPC.AckTimeout,
		QueueDepth:  cfg.IPC.QueueDepth,
	}

	// 网络核：Init 会阻塞等待对端绑定，放到 goroutine 里与应用核并行拉起
	netMgr := netcore.NewManager(ipc.NewTransport(netCh, opts), driver.NewSimBLE(), driver.NewSimRadio())
	netErr := make(chan error, 1)
	go func() { netErr <- netMgr.Init() }()

	// 应用核
	var store settings.Store
	if *dataDir != "" {
		store, err = settings.NewFileStore(filepath.Join(*dataDir, "settings.json"))
		if err != nil {
			log.Fatalf("open settings store: %v", err)
		}
	} else {
		store = settings.NewMemStore()
	}

	appTr := ipc.NewTransport(appCh, opts)
	tm := thread.NewManager(cfg.Thread, cfg.Rejoin, appTr)
	app := matter.NewAppTask(cfg, appTr, tm, store, processRebooter{})
	if err := app.Init(); err != nil {
		log.Fatalf("app core init: %v", err)
	}
	if err := <-netErr; err != nil {
		log.Fatalf("net core init: %v", err)
	}

	if !app.Delegate().IsCommissioned() {
		if err := app.OpenCommissioningWindow(0); err != nil {
			logger.M("lightd").Errorw("commissioning_window_failed", "err", err)
		}
	}

	logger.M("lightd").Infow("running", "device", cfg.Device.Name,
		"app_state", app.State().String(), "net_state", netMgr.State().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			app.DispatchEvent()
		case <-sig:
			logger.M("lightd").Infow("shutdown")
			tm.Close()
			return
		}
	}
}
