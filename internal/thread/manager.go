// Package thread 管理 Thread 网络的加入/退出、掉线重连退避与链路健康评估。
// 真实的 Thread 协议栈运行在网络核一侧，这里只定义策略与访问契约。
package thread

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// ErrRejoinExhausted 重连次数超过上限后返回的终止错误
var ErrRejoinExhausted = errors.New("thread: rejoin attempts exhausted")

// State Thread 设备状态
type State uint8

const (
	StateDisabled State = iota
	StateInitializing
	StateIdle
	StateAttaching
	StateChild
	StateRouter
	StateLeader
	StateDetaching
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateInitializing:
		return "INITIALIZING"
	case StateIdle:
		return "IDLE"
	case StateAttaching:
		return "ATTACHING"
	case StateChild:
		return "CHILD"
	case StateRouter:
		return "ROUTER"
	case StateLeader:
		return "LEADER"
	case StateDetaching:
		return "DETACHING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Attached 已入网（CHILD/ROUTER/LEADER 任一角色）
func (s State) Attached() bool {
	return s == StateChild || s == StateRouter || s == StateLeader
}

const (
	minTxPowerDBM int8 = -20
	maxTxPowerDBM int8 = 20
)

// SyncSender 向网络核发送请求并等待应答的最小契约
type SyncSender interface {
	SendSync(msg *ipc.Message, timeout time.Duration) error
}

// LinkQuality 链路质量快照，由底层驱动回填
type LinkQuality struct {
	RSSI    int8
	LQI     uint8
	LossPct float64
}

// Diagnostics 诊断快照
type Diagnostics struct {
	State          State
	RSSI           int8
	LossPct        float64
	RejoinAttempts int
	TxPowerDBM     int8
}

// StateSink 状态变化通知
type StateSink func(old, new State)

// Manager Thread 网络管理器。状态迁移刻意不做全量合法性校验：
// 已入网时的 StartNetworkJoin 直接短路为成功，LeaveNetwork 先取消
// 挂起的重连定时器再退网，避免退网后定时器补刀重连。
type Manager struct {
	cfg    config.ThreadConfig
	rejoin config.RejoinConfig
	sender SyncSender
	log    *zap.SugaredLogger

	mu          sync.Mutex
	state       State
	sink        StateSink
	quality     LinkQuality
	txPower     int8
	attempts    int
	rejoinTimer *time.Timer
}

func NewManager(cfg config.ThreadConfig, rejoin config.RejoinConfig, sender SyncSender) *Manager {
	return &Manager{
		cfg:     cfg,
		rejoin:  rejoin,
		sender:  sender,
		log:     logger.M("thread"),
		state:   StateDisabled,
		txPower: cfg.TxPowerDBM,
	}
}

// Init 上电自检：DISABLED → INITIALIZING → IDLE。重复调用是 no-op。
func (m *Manager) Init() error {
	m.mu.Lock()
	if m.state != StateDisabled {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateInitializing)
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.log.Infow("thread_manager_ready",
		"channel", m.cfg.Channel, "network", m.cfg.NetworkName, "tx_power_dbm", m.txPower)
	return nil
}

// SetStateSink 注册状态变化回调，在锁外调用
func (m *Manager) SetStateSink(sink StateSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartNetworkJoin 请求入网。已入网直接返回成功；
// 请求经 IPC 同步下发给网络核，入网完成由 NotifyAttached 报告。
func (m *Manager) StartNetworkJoin() error {
	m.mu.Lock()
	if m.state.Attached() {
		m.mu.Unlock()
		m.log.Infow("already_attached", "state", m.state.String())
		return nil
	}
	m.setStateLocked(StateAttaching)
	channel, pan := m.cfg.Channel, m.cfg.PanID
	m.mu.Unlock()

	msg := ipc.NewMessage(ipc.MsgThreadStart).
		Priority(ipc.PriorityHigh).
		Params(uint32(channel), uint32(pan)).
		Build()
	if err := m.sender.SendSync(msg, 0); err != nil {
		m.mu.Lock()
		m.setStateLocked(StateError)
		m.mu.Unlock()
		return fmt.Errorf("thread start request: %w", err)
	}
	m.log.Infow("join_requested", "channel", channel, "pan_id", fmt.Sprintf("0x%04X", pan), "network", m.cfg.NetworkName)
	return nil
}

// ScanAndJoin 先做信道扫描再入网。扫描由网络核代理，这里只下发请求
func (m *Manager) ScanAndJoin() error {
	m.log.Infow("scan_started", "channel", m.cfg.Channel)
	return m.StartNetworkJoin()
}

// LeaveNetwork 退网。先取消挂起的重连定时器，再通知网络核停栈
func (m *Manager) LeaveNetwork() error {
	m.mu.Lock()
	m.cancelRejoinLocked()
	m.setStateLocked(StateDetaching)
	m.mu.Unlock()

	msg := ipc.NewMessage(ipc.MsgThreadStop).Priority(ipc.PriorityHigh).Params().Build()
	err := m.sender.SendSync(msg, 0)

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("thread stop request: %w", err)
	}
	m.log.Infow("left_network")
	return nil
}

// ScheduleNetworkRejoin 按指数退避安排一次重连，返回本次延迟。
// 超过最大次数返回 ErrRejoinExhausted，不再安排。
func (m *Manager) ScheduleNetworkRejoin() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.attempts > m.rejoin.MaxAttempts {
		m.log.Errorw("rejoin_exhausted", "attempts", m.attempts-1, "max", m.rejoin.MaxAttempts)
		return 0, ErrRejoinExhausted
	}

	delay := m.backoffDelay(m.attempts)
	m.cancelRejoinLocked()
	m.rejoinTimer = time.AfterFunc(delay, func() {
		if err := m.StartNetworkJoin(); err != nil {
			m.log.Warnw("rejoin_failed", "err", err)
		}
	})
	observe.IncRejoinAttempt()
	m.log.Infow("rejoin_scheduled", "attempt", m.attempts, "delay", delay)
	return delay, nil
}

// backoffDelay 第 n 次尝试的延迟：initial × multiplier^(n-1)，封顶 max
func (m *Manager) backoffDelay(n int) time.Duration {
	d := float64(m.rejoin.InitialDelay)
	for i := 1; i < n; i++ {
		d *= m.rejoin.Multiplier
		if d >= float64(m.rejoin.MaxDelay) {
			return m.rejoin.MaxDelay
		}
	}
	if d > float64(m.rejoin.MaxDelay) {
		return m.rejoin.MaxDelay
	}
	return time.Duration(d)
}

// NotifyAttached 底层栈报告入网完成，角色为 CHILD/ROUTER/LEADER 之一。
// 清零重连计数并取消挂起的重连。
func (m *Manager) NotifyAttached(role State) {
	if !role.Attached() {
		m.log.Warnw("bad_attach_role", "role", role.String())
		return
	}
	m.mu.Lock()
	m.attempts = 0
	m.cancelRejoinLocked()
	m.setStateLocked(role)
	m.mu.Unlock()
}

// NotifyDetached 底层栈报告掉线
func (m *Manager) NotifyDetached() {
	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
}

// SetLinkQuality 驱动回填链路质量快照
func (m *Manager) SetLinkQuality(rssi int8, lqi uint8, lossPct float64) {
	m.mu.Lock()
	m.quality = LinkQuality{RSSI: rssi, LQI: lqi, LossPct: lossPct}
	m.mu.Unlock()
}

func (m *Manager) LinkQuality() LinkQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// SetTxPower 设置发射功率，超出 [-20, 20] dBm 的值被夹取
func (m *Manager) SetTxPower(dbm int8) int8 {
	if dbm < minTxPowerDBM {
		dbm = minTxPowerDBM
	} else if dbm > maxTxPowerDBM {
		dbm = maxTxPowerDBM
	}
	m.mu.Lock()
	m.txPower = dbm
	m.mu.Unlock()
	m.log.Infow("tx_power_set", "dbm", dbm)
	return dbm
}

func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Diagnostics{
		State:          m.state,
		RSSI:           m.quality.RSSI,
		LossPct:        m.quality.LossPct,
		RejoinAttempts: m.attempts,
		TxPowerDBM:     m.txPower,
	}
}

// Close 取消挂起的重连定时器
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancelRejoinLocked()
	m.mu.Unlock()
}

func (m *Manager) cancelRejoinLocked() {
	if m.rejoinTimer != nil {
		m.rejoinTimer.Stop()
		m.rejoinTimer = nil
	}
}

// setStateLocked 更新状态，回调在持锁状态下异步触发
func (m *Manager) setStateLocked(to State) {
	if m.state == to {
		return
	}
	old := m.state
	m.state = to
	observe.IncTransition("thread")
	m.log.Infow("thread_state", "from", old.String(), "to", to.String())
	if m.sink != nil {
		sink := m.sink
		go sink(old, to)
	}
}
