// netcore 以独立进程运行网络核，监听 WebSocket 链路等待应用核接入。
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/driver"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/link"
	"github.com/hongjun500/lightcore/internal/netcore"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/pkg/logger"
)

func main() {
	cfgPath := flag.String("config", "", "device profile (YAML), empty = factory defaults")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := observe.StartHTTP(cfg.MetricsAddr); err != nil {
				logger.M("netcore").Errorw("metrics_http_exit", "err", err)
			}
		}()
	}

	ch := link.NewWSListenChannel(cfg.IPC.Addr, "/ipc")
	tr := ipc.NewTransport(ch, ipc.Options{
		BindTimeout: cfg.IPC.BindTimeout,
		AckTimeout:  cfg.IPC.AckTimeout,
		QueueDepth:  cfg.IPC.QueueDepth,
	})

	m := netcore.NewManager(tr, driver.NewSimBLE(), driver.NewSimRadio())
	if err := m.Init(); err != nil {
		log.Fatalf("net core init: %v", err)
	}
	logger.M("netcore").Infow("running", "addr", cfg.IPC.Addr, "state", m.State().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.M("netcore").Infow("shutdown")
	_ = tr.Close()
}
