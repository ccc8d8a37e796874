// appcore 以独立进程运行应用核，通过 WebSocket 链路拨号连接网络核进程。
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/link"
	"github.com/hongjun500/lightcore/internal/matter"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/internal/settings"
	"github.com/hongjun500/lightcore/internal/thread"
	"github.com/hongjun500/lightcore/pkg/logger"
)

type processRebooter struct{}

func (processRebooter) Reboot() {
	logger.M("appcore").Warnw("rebooting")
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
				logger.M("appcore").Errorw("metrics_http_exit", "err", err)
			}
		}()
	}

	addr := cfg.IPC.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	ch := link.NewWSDialChannel(fmt.Sprintf("ws://%s/ipc", addr))
	tr := ipc.NewTransport(ch, ipc.Options{
		BindTimeout: cfg.IPC.BindTimeout,
		AckTimeout:  cfg.IPC.AckTimeout,
		QueueDepth:  cfg.IPC.QueueDepth,
	})

	var store settings.Store
	if *dataDir != "" {
		store, err = settings.NewFileStore(filepath.Join(*dataDir, "settings.json"))
		if err != nil {
			log.Fatalf("open settings store: %v", err)
		}
	} else {
		store = settings.NewMemStore()
	}

	tm := thread.NewManager(cfg.Thread, cfg.Rejoin, tr)
	app := matter.NewAppTask(cfg, tr, tm, store, processRebooter{})
	if err := app.Init(); err != nil {
		log.Fatalf("app core init: %v", err)
	}

	if !app.Delegate().IsCommissioned() {
		if err := app.OpenCommissioningWindow(0); err != nil {
			logger.M("appcore").Errorw("commissioning_window_failed", "err", err)
		}
	}

	logger.M("appcore").Infow("running", "device", cfg.Device.Name, "state", app.State().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			app.DispatchEvent()
		case <-sig:
			logger.M("appcore").Infow("shutdown")
			tm.Close()
			_ = tr.Close()
			return
		}
	}
}
