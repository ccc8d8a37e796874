// Package driver 提供 BLE 与射频子系统的宿主侧模拟实现，
// 满足网络核的驱动契约，支持按需注入故障。
package driver

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/pkg/logger"
)

// ErrDisabled 子系统未使能
var ErrDisabled = errors.New("driver: subsystem disabled")

// SimBLE 模拟 BLE 控制器。InitErr/OpErr 非 nil 时相应操作返回注入的错误。
type SimBLE struct {
	InitErr error
	OpErr   error

	log *zap.SugaredLogger

	mu          sync.Mutex
	enabled     bool
	advertising bool
	intervalMS  uint16
}

func NewSimBLE() *SimBLE {
	return &SimBLE{log: logger.M("sim_ble")}
}

func (b *SimBLE) Name() string { return "sim_ble" }

func (b *SimBLE) Init() error {
	if b.InitErr != nil {
		return b.InitErr
	}
	b.log.Infow("ble_init")
	return nil
}

func (b *SimBLE) Enable() error {
	if b.OpErr != nil {
		return b.OpErr
	}
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
	return nil
}

func (b *SimBLE) Disable() error {
	if b.OpErr != nil {
		return b.OpErr
	}
	b.mu.Lock()
	b.enabled = false
	b.advertising = false
	b.mu.Unlock()
	return nil
}

func (b *SimBLE) StartAdvertising(intervalMS uint16) error {
	if b.OpErr != nil {
		return b.OpErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return ErrDisabled
	}
	b.advertising = true
	b.intervalMS = intervalMS
	b.log.Infow("adv_start", "interval_ms", intervalMS)
	return nil
}

func (b *SimBLE) StopAdvertising() error {
	if b.OpErr != nil {
		return b.OpErr
	}
	b.mu.Lock()
	b.advertising = false
	b.mu.Unlock()
	b.log.Infow("adv_stop")
	return nil
}

func (b *SimBLE) IsAdvertising() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advertising
}

// AdvInterval 最近一次广播间隔，测试用
func (b *SimBLE) AdvInterval() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.intervalMS
}
