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
	"github.com/hongjun500/lightcore/internal/thread"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// 设备配置的持久化键（恢复出厂设置时整个 matter/ 命名空间被清除）
const (
	keyCfgVendorID      = "matter/config/vendor_id"
	keyCfgProductID     = "matter/config/product_id"
	keyCfgDiscriminator = "matter/config/discriminator"
	keyCfgSerial        = "matter/config/serial"
)

// resetSettleDelay 恢复出厂设置后等待持久化落盘的时间
var resetSettleDelay = 2 * time.Second

// Transport 应用核对 IPC 传输层的依赖面
type Transport interface {
	Init() error
	IsReady() bool
	Send(msg *ipc.Message) error
	SendSync(msg *ipc.Message, timeout time.Duration) error
	RegisterCallback(typ ipc.MsgType, fn ipc.MessageHandler) error
}

// Rebooter 冷重启能力，由宿主注入
type Rebooter interface {
	Reboot()
}

// AppTask 应用核主状态机。Init 按阶段顺序拉起各子系统，任一阶段失败
// 即中止并进入 ERROR；运行期事件经有界队列由 DispatchEvent 轮询消费。
type AppTask struct {
	cfg      *config.Config
	tr       Transport
	store    settings.Store
	thread   *thread.Manager
	rebooter Rebooter
	log      *zap.SugaredLogger

	delegate   *CommissioningDelegate
	endpoint   *LightEndpoint
	resilience *thread.ResilienceManager

	events     chan Event
	startedAt  time.Time
	lastHealth time.Time

	mu               sync.Mutex
	state            AppState
	networkConnected bool
}

func NewAppTask(cfg *config.Config, tr Transport, tm *thread.Manager, store settings.Store, rb Rebooter) *AppTask {
	return &AppTask{
		cfg:        cfg,
		tr:         tr,
		store:      store,
		thread:     tm,
		rebooter:   rb,
		log:        logger.M("app_task"),
		events:     make(chan Event, MaxPendingEvents),
		startedAt:  time.Now(),
		lastHealth: time.Now(),
		state:      StateUninitialized,
	}
}

// Init 按阶段初始化，首个失败的阶段中止后续阶段，
// 状态进入 ERROR 并把该阶段错误原样上抛。
func (a *AppTask) Init() error {
	if err := a.requestState(StateInitializing); err != nil {
		return err
	}

	phases := []struct {
		name string
		fn   func() error
	}{
		{"settings", a.initPhaseSettings},
		{"ipc", a.initPhaseIPC},
		{"endpoint", a.initPhaseEndpoint},
		{"commissioning", a.initPhaseCommissioning},
		{"network", a.initPhaseNetwork},
		{"callbacks", a.initPhaseCallbacks},
		{"autojoin", a.initPhaseAutoJoin},
	}
	for i, p := range phases {
		if err := p.fn(); err != nil {
			a.forceError()
			return fmt.Errorf("init phase %d (%s): %w", i, p.name, err)
		}
		a.log.Infow("init_phase_done", "phase", i, "name", p.name)
	}

	a.log.Infow("app_task_initialized", "state", a.State().String(),
		"commissioned", a.delegate.IsCommissioned())
	return nil
}

// 阶段 0：确认持久化存储可用并读取开机时的配网状态
func (a *AppTask) initPhaseSettings() error {
	commissioned := a.store.ValLen(keyCommissioned) > 0
	a.log.Infow("settings_loaded", "commissioned", commissioned)
	return nil
}

// 阶段 1：拉起 IPC 并向网络核发一条状态查询
func (a *AppTask) initPhaseIPC() error {
	if err := a.tr.Init(); err != nil {
		return err
	}
	probe := ipc.NewMessage(ipc.MsgStatusRequest).Status(0, nil).Build()
	if err := a.tr.Send(probe); err != nil {
		return err
	}
	return nil
}

// 阶段 2：灯端点，从存储恢复属性
func (a *AppTask) initPhaseEndpoint() error {
	a.endpoint = NewLightEndpoint(a.store)
	return nil
}

// 阶段 3：配网代理 + 设备配置持久化（属性写入尽力而为）
func (a *AppTask) initPhaseCommissioning() error {
	a.delegate = NewCommissioningDelegate(a.cfg.Commissioning, a.tr, a.store)
	a.delegate.SetCompletionSink(a)

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, a.cfg.Device.VendorID)
	a.persistCfg(keyCfgVendorID, buf)
	buf = make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, a.cfg.Device.ProductID)
	a.persistCfg(keyCfgProductID, buf)
	buf = make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, a.cfg.Commissioning.Discriminator)
	a.persistCfg(keyCfgDiscriminator, buf)
	a.persistCfg(keyCfgSerial, []byte(a.cfg.Device.Serial))
	if err := a.store.Save(); err != nil {
		a.log.Warnw("device_config_save_failed", "err", err)
	}
	a.log.Infow("device_identity", "serial", a.cfg.Device.Serial,
		"vendor_id", a.cfg.Device.VendorID, "product_id", a.cfg.Device.ProductID)
	return nil
}

// 阶段 4：Thread 管理器上电自检 + 链路健康评估
func (a *AppTask) initPhaseNetwork() error {
	if err := a.thread.Init(); err != nil {
		return err
	}
	a.resilience = thread.NewResilienceManager(a.cfg.Health.LossDowngradePct)
	return nil
}

// 阶段 5：回调布线。Thread 状态边沿转为应用事件，
// 掉线时由健康管理器触发重连调度。
func (a *AppTask) initPhaseCallbacks() error {
	a.thread.SetStateSink(func(old, new thread.State) {
		if new.Attached() && !old.Attached() {
			a.PostEvent(EventNetworkUp)
		} else if old.Attached() && !new.Attached() {
			a.PostEvent(EventNetworkDown)
		}
	})
	a.resilience.SetDisconnectSink(func() {
		if _, err := a.thread.ScheduleNetworkRejoin(); err != nil {
			a.log.Errorw("rejoin_schedule_failed", "err", err)
		}
	})
	if err := a.tr.RegisterCallback(ipc.MsgThreadAttach, func(msg *ipc.Message) {
		p, ok := msg.Payload.(ipc.ParamsPayload)
		if !ok {
			return
		}
		switch p[0] {
		case ipc.RoleChild:
			a.thread.NotifyAttached(thread.StateChild)
		case ipc.RoleRouter:
			a.thread.NotifyAttached(thread.StateRouter)
		case ipc.RoleLeader:
			a.thread.NotifyAttached(thread.StateLeader)
		default:
			a.log.Warnw("unknown_attach_role", "role", p[0])
		}
	}); err != nil {
		return err
	}
	return a.tr.RegisterCallback(ipc.MsgStatusResponse, func(msg *ipc.Message) {
		if p, ok := msg.Payload.(ipc.ParamsPayload); ok {
			a.log.Infow("net_core_status", "state", p[0], "ble", p[1], "radio", p[2], "transitions", p[3])
		}
	})
}

// 阶段 6：已配网的设备开机即尝试入网，否则停在 IDLE 等待配网
func (a *AppTask) initPhaseAutoJoin() error {
	if a.delegate.IsCommissioned() {
		if err := a.requestState(StateNetworkJoining); err != nil {
			return err
		}
		return a.thread.StartNetworkJoin()
	}
	return a.requestState(StateIdle)
}

// persistCfg 设备配置写入失败只告警
func (a *AppTask) persistCfg(key string, val []byte) {
	if err := a.store.SaveOne(key, val); err != nil {
		a.log.Warnw("config_persist_failed", "key", key, "err", err)
	}
}

/*=============================================================================
 * 事件队列
 *===========================================================================*/

// PostEvent 非阻塞投递一个事件，队列满则丢弃并告警
func (a *AppTask) PostEvent(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warnw("event_queue_full", "event", ev.String())
	}
}

// DispatchEvent 非阻塞轮询：排空事件队列并逐个处理，
// 顺带驱动周期性健康检查。主循环定时调用，内部不做任何阻塞 I/O。
func (a *AppTask) DispatchEvent() {
	for {
		select {
		case ev := <-a.events:
			a.handleEvent(ev)
		default:
			a.maybeCheckHealth()
			return
		}
	}
}

// maybeCheckHealth 按配置的间隔把链路质量快照喂给健康管理器。
// 链路不在线时跳过，避免覆盖掉线时强制的 POOR 评级。
func (a *AppTask) maybeCheckHealth() {
	a.mu.Lock()
	due := a.networkConnected && time.Since(a.lastHealth) >= a.cfg.Health.CheckInterval
	if due {
		a.lastHealth = time.Now()
	}
	a.mu.Unlock()
	if !due || a.resilience == nil {
		return
	}
	q := a.thread.LinkQuality()
	a.resilience.UpdateHealth(q.RSSI, q.LossPct)
	a.log.Debugw("health_check", "report", a.resilience.HealthReport())
}

func (a *AppTask) handleEvent(ev Event) {
	a.log.Debugw("event", "event", ev.String())
	switch ev {
	case EventNetworkUp:
		a.mu.Lock()
		a.networkConnected = true
		a.mu.Unlock()
		a.resilience.OnLinkUp()
		if err := a.requestState(StateNetworkConnected); err != nil {
			a.log.Warnw("network_up_ignored", "state", a.State().String())
		}
	case EventNetworkDown:
		a.mu.Lock()
		a.networkConnected = false
		a.mu.Unlock()
		a.resilience.OnLinkDown()
		if a.State() == StateNetworkConnected {
			_ = a.requestState(StateCommissioned)
		}
	case EventCommissioned:
		if err := a.requestState(StateCommissioned); err != nil {
			return
		}
		if err := a.requestState(StateNetworkJoining); err == nil {
			if err := a.thread.StartNetworkJoin(); err != nil {
				a.log.Errorw("post_commissioning_join_failed", "err", err)
			}
		}
	}
}

/*=============================================================================
 * 状态机
 *===========================================================================*/

func (a *AppTask) State() AppState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// requestState 按迁移表切换状态，非法迁移记日志并拒绝（不改状态）
func (a *AppTask) requestState(to AppState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := a.state
	if from == to {
		return nil
	}
	if !transitionAllowed(from, to) {
		a.log.Warnw("invalid_transition", "from", from.String(), "to", to.String())
		return ErrInvalidTransition
	}
	a.state = to
	observe.IncTransition("app")
	a.log.Infow("app_state", "from", from.String(), "to", to.String())
	return nil
}

func (a *AppTask) forceError() {
	_ = a.requestState(StateAppError)
}

// Recover ERROR 状态下回到 IDLE，其他状态下拒绝
func (a *AppTask) Recover() error {
	if a.State() != StateAppError {
		return ErrInvalidTransition
	}
	return a.requestState(StateIdle)
}

/*=============================================================================
 * 公开操作
 *===========================================================================*/

// OpenCommissioningWindow 打开配网窗口，成功后状态进入 COMMISSIONING
func (a *AppTask) OpenCommissioningWindow(timeoutSec uint32) error {
	if err := a.delegate.OpenWindow(timeoutSec); err != nil {
		return err
	}
	if err := a.requestState(StateCommissioning); err != nil {
		a.log.Warnw("commissioning_state_not_entered", "state", a.State().String())
	}
	return nil
}

// CloseCommissioningWindow 关闭配网窗口，COMMISSIONING 状态下回到 IDLE
func (a *AppTask) CloseCommissioningWindow() error {
	if err := a.delegate.CloseWindow(); err != nil {
		return err
	}
	if a.State() == StateCommissioning {
		_ = a.requestState(StateIdle)
	}
	return nil
}

// OnFabricAdded 控制器完成 fabric 加入后的入口：
// 持久化已配网标志并投递配网完成事件
func (a *AppTask) OnFabricAdded() error {
	if err := a.delegate.OnFabricAdded(); err != nil {
		return err
	}
	a.PostEvent(EventCommissioned)
	return nil
}

// OnCommissioningComplete 配网代理的完成回调
func (a *AppTask) OnCommissioningComplete() {
	a.PostEvent(EventCommissioned)
}

// FactoryReset 恢复出厂设置：关窗、清除全部持久化命名空间（清除失败
// 是硬错误）、复位内存标志、等待落盘后冷重启。正常路径不再返回控制权。
func (a *AppTask) FactoryReset() error {
	a.log.Warnw("factory_reset_started")

	if err := a.delegate.CloseWindow(); err != nil {
		a.log.Warnw("window_close_failed", "err", err)
	}
	if err := a.delegate.OnFabricRemoved(); err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}
	for _, ns := range []string{"matter/", "mt/", "net/"} {
		if err := a.store.Delete(ns); err != nil {
			return fmt.Errorf("factory reset: clear namespace %s: %w", ns, err)
		}
	}
	if err := a.store.Save(); err != nil {
		return fmt.Errorf("factory reset: settings save: %w", err)
	}

	a.mu.Lock()
	a.networkConnected = false
	a.mu.Unlock()
	a.thread.Close()

	a.log.Warnw("factory_reset_rebooting", "settle", resetSettleDelay)
	time.Sleep(resetSettleDelay)
	a.rebooter.Reboot()
	return nil
}

/*=============================================================================
 * 查询
 *===========================================================================*/

func (a *AppTask) NetworkConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.networkConnected
}

func (a *AppTask) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

func (a *AppTask) Endpoint() *LightEndpoint { return a.endpoint }

func (a *AppTask) Delegate() *CommissioningDelegate { return a.delegate }

func (a *AppTask) Resilience() *thread.ResilienceManager { return a.resilience }
