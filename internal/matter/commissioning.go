package matter

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/internal/settings"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// 配网相关的持久化键（"matter/fabric" 命名空间在 OnFabricRemoved 时整体清除）
const (
	fabricNamespace  = "matter/fabric"
	keyCommissioned  = "matter/fabric/commissioned"
	keyFabricCount   = "matter/fabric/count"
	keyCompletedAtMS = "matter/fabric/completed_at"
	advStartFlags    = 0x06 // connectable + scannable
)

// Sender 向网络核发送消息的最小契约
type Sender interface {
	Send(msg *ipc.Message) error
}

// CompletionSink 配网完成通知
type CompletionSink interface {
	OnCommissioningComplete()
}

// CommissioningDelegate 管理配网窗口和"已配网"这一个持久化布尔。
// 已配网是单向迁移，除恢复出厂设置外没有反向路径。
type CommissioningDelegate struct {
	cfg    config.CommissioningConfig
	sender Sender
	store  settings.Store
	log    *zap.SugaredLogger
	sink   CompletionSink

	mu          sync.Mutex
	open        bool
	openedAt    time.Time
	window      time.Duration
	timer       *time.Timer
	fabricCount uint32
}

func NewCommissioningDelegate(cfg config.CommissioningConfig, sender Sender, store settings.Store) *CommissioningDelegate {
	d := &CommissioningDelegate{
		cfg:    cfg,
		sender: sender,
		store:  store,
		log:    logger.M("commissioning"),
	}
	if v, ok := store.Get(keyFabricCount); ok && len(v) == 4 {
		d.fabricCount = binary.LittleEndian.Uint32(v)
	}
	return d
}

// SetCompletionSink 注册配网完成回调
func (d *CommissioningDelegate) SetCompletionSink(sink CompletionSink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

// OpenWindow 打开配网窗口 timeoutSec 秒（0 取配置值）。
// 已打开返回 ErrWindowOpen；BLE 广播请求下发失败时回滚打开标志并上抛。
func (d *CommissioningDelegate) OpenWindow(timeoutSec uint32) error {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		d.log.Infow("window_already_open")
		return ErrWindowOpen
	}
	if timeoutSec == 0 {
		timeoutSec = d.cfg.WindowSec
	}
	d.open = true
	d.openedAt = time.Now()
	d.window = time.Duration(timeoutSec) * time.Second
	d.timer = time.AfterFunc(d.window, d.onWindowExpired)
	d.mu.Unlock()

	msg := ipc.NewMessage(ipc.MsgBLEAdvStart).
		Priority(ipc.PriorityHigh).
		Flags(advStartFlags).
		BLE(d.cfg.AdvIntervalMS, 0, nil).
		Build()
	if err := d.sender.Send(msg); err != nil {
		// 广播没起来，窗口不算打开
		d.mu.Lock()
		d.open = false
		d.stopTimerLocked()
		d.mu.Unlock()
		return fmt.Errorf("ble adv start: %w", err)
	}

	observe.IncCommissioningWindow()
	d.log.Infow("window_opened", "timeout_sec", timeoutSec,
		"discriminator", fmt.Sprintf("0x%04X", d.cfg.Discriminator))
	return nil
}

func (d *CommissioningDelegate) onWindowExpired() {
	d.log.Infow("window_expired")
	if err := d.CloseWindow(); err != nil {
		d.log.Warnw("window_close_failed", "err", err)
	}
}

// CloseWindow 关闭配网窗口并停止 BLE 广播。已关闭时为空操作。
// 关闭窗口不改变已配网标志。
func (d *CommissioningDelegate) CloseWindow() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	d.stopTimerLocked()
	d.mu.Unlock()

	msg := ipc.NewMessage(ipc.MsgBLEAdvStop).Priority(ipc.PriorityHigh).BLE(0, 0, nil).Build()
	if err := d.sender.Send(msg); err != nil {
		return fmt.Errorf("ble adv stop: %w", err)
	}
	d.log.Infow("window_closed")
	return nil
}

// IsWindowOpen 配网窗口是否打开
func (d *CommissioningDelegate) IsWindowOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// TimeRemaining 配网窗口剩余时长，窗口关闭或已超时为 0，永不为负
func (d *CommissioningDelegate) TimeRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0
	}
	rem := d.window - time.Since(d.openedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// IsCommissioned 已配网标志来自持久化存储
func (d *CommissioningDelegate) IsCommissioned() bool {
	return d.store.ValLen(keyCommissioned) > 0
}

// OnFabricAdded 加入 fabric：持久化已配网标志和 fabric 计数并落盘，
// 然后关闭仍在打开的窗口。这是到"已配网"的单向迁移。
func (d *CommissioningDelegate) OnFabricAdded() error {
	d.mu.Lock()
	d.fabricCount++
	count := d.fabricCount
	d.mu.Unlock()

	if err := d.store.SaveOne(keyCommissioned, []byte{1}); err != nil {
		return fmt.Errorf("persist commissioned flag: %w", err)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, count)
	if err := d.store.SaveOne(keyFabricCount, buf); err != nil {
		return fmt.Errorf("persist fabric count: %w", err)
	}
	if err := d.store.Save(); err != nil {
		return fmt.Errorf("settings save: %w", err)
	}

	d.log.Infow("fabric_added", "fabric_count", count)
	return d.CloseWindow()
}

// OnFabricRemoved 清除 fabric 命名空间，恢复出厂设置路径调用。
// 清除失败是硬错误。
func (d *CommissioningDelegate) OnFabricRemoved() error {
	if err := d.store.Delete(fabricNamespace); err != nil {
		return fmt.Errorf("delete fabric namespace: %w", err)
	}
	d.mu.Lock()
	d.fabricCount = 0
	d.mu.Unlock()
	d.log.Infow("fabric_removed")
	return nil
}

// OnCommissioningComplete 配网流程收尾：持久化完成时间戳、
// 通知完成回调、关闭窗口。
func (d *CommissioningDelegate) OnCommissioningComplete() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(time.Now().UnixMilli()))
	if err := d.store.SaveOne(keyCompletedAtMS, buf); err != nil {
		d.log.Warnw("completion_persist_failed", "err", err)
	}

	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.OnCommissioningComplete()
	}

	d.log.Infow("commissioning_complete")
	return d.CloseWindow()
}

// FabricCount 当前 fabric 数
func (d *CommissioningDelegate) FabricCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fabricCount
}

// Passcode 手动配网 PIN
func (d *CommissioningDelegate) Passcode() uint32 { return d.cfg.Passcode }

// Discriminator BLE 配网识别码
func (d *CommissioningDelegate) Discriminator() uint16 { return d.cfg.Discriminator }

func (d *CommissioningDelegate) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
