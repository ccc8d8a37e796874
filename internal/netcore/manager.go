// Package netcore 实现网络核管理器：响应应用核的 IPC 请求，
// 驱动 BLE/射频子系统并回 ACK/NACK。
package netcore

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// ErrNoSubsystem BLE 和射频都没起来，网络核无法提供任何服务
var ErrNoSubsystem = errors.New("netcore: no subsystem initialized")

// State 网络核状态
type State uint8

const (
	StateIdle State = iota
	StateInitializing
	StateBLEReady
	StateRadioReady
	StateOperating
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitializing:
		return "INITIALIZING"
	case StateBLEReady:
		return "BLE_READY"
	case StateRadioReady:
		return "RADIO_READY"
	case StateOperating:
		return "OPERATING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// BLEManager BLE 子系统契约，由驱动实现
type BLEManager interface {
	Init() error
	Enable() error
	Disable() error
	StartAdvertising(intervalMS uint16) error
	StopAdvertising() error
	IsAdvertising() bool
	Name() string
}

// RadioManager 802.15.4 射频子系统契约，由驱动实现
type RadioManager interface {
	Init() error
	Enable() error
	Disable() error
	Transmit(channel uint8, powerDBM int8, data []byte) error
	Name() string
}

// Transport 网络核对 IPC 传输层的依赖面
type Transport interface {
	Init() error
	Send(msg *ipc.Message) error
	RegisterCallback(typ ipc.MsgType, fn ipc.MessageHandler) error
}

// Stats 网络核运行计数
type Stats struct {
	Transitions uint32
	Errors      uint32
	BLEOps      uint32
	RadioOps    uint32
}

// Manager 网络核管理器。子系统初始化失败只告警不中止，
// 只要有一个子系统活着就进入 OPERATING，全灭才是 ERROR。
type Manager struct {
	tr    Transport
	ble   BLEManager
	radio RadioManager
	log   *zap.SugaredLogger

	mu           sync.Mutex
	state        State
	bleEnabled   bool
	radioEnabled bool
	stats        Stats
}

func NewManager(tr Transport, ble BLEManager, radio RadioManager) *Manager {
	return &Manager{
		tr:    tr,
		ble:   ble,
		radio: radio,
		log:   logger.M("net_core"),
		state: StateIdle,
	}
}

// Init 拉起 IPC、注册请求 handler、逐个初始化子系统
func (m *Manager) Init() error {
	m.setState(StateInitializing)

	if err := m.tr.Init(); err != nil {
		m.setState(StateError)
		return err
	}
	if err := m.registerHandlers(); err != nil {
		m.setState(StateError)
		return err
	}

	if err := m.initBLE(); err != nil {
		m.log.Warnw("ble_init_failed", "driver", m.ble.Name(), "err", err)
	} else {
		m.setState(StateBLEReady)
	}
	if err := m.initRadio(); err != nil {
		m.log.Warnw("radio_init_failed", "driver", m.radio.Name(), "err", err)
	} else {
		m.setState(StateRadioReady)
	}

	m.mu.Lock()
	alive := m.bleEnabled || m.radioEnabled
	m.mu.Unlock()
	if !alive {
		m.setState(StateError)
		return ErrNoSubsystem
	}
	m.setState(StateOperating)
	m.log.Infow("net_core_operating", "ble", m.IsBLEEnabled(), "radio", m.IsRadioEnabled())
	return nil
}

func (m *Manager) initBLE() error {
	if err := m.ble.Init(); err != nil {
		return err
	}
	if err := m.ble.Enable(); err != nil {
		return err
	}
	m.mu.Lock()
	m.bleEnabled = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) initRadio() error {
	if err := m.radio.Init(); err != nil {
		return err
	}
	if err := m.radio.Enable(); err != nil {
		return err
	}
	m.mu.Lock()
	m.radioEnabled = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) registerHandlers() error {
	handlers := []struct {
		typ ipc.MsgType
		fn  ipc.MessageHandler
	}{
		{ipc.MsgStatusRequest, m.handleStatusRequest},
		{ipc.MsgBLEAdvStart, m.handleBLEAdvStart},
		{ipc.MsgBLEAdvStop, m.handleBLEAdvStop},
		{ipc.MsgRadioEnable, m.handleRadioEnable},
		{ipc.MsgRadioTx, m.handleRadioTx},
		{ipc.MsgRadioDisable, m.handleRadioDisable},
		{ipc.MsgThreadStart, m.handleThreadStart},
		{ipc.MsgThreadStop, m.handleThreadStop},
	}
	for _, h := range handlers {
		if err := m.tr.RegisterCallback(h.typ, h.fn); err != nil {
			return err
		}
	}
	return nil
}

/*=============================================================================
 * 请求 handler：处理完毕回 ACK/NACK，关联 ID 为请求的 sequence_id
 *===========================================================================*/

// reply 应答：Status.Code 回带请求的 sequence_id
func (m *Manager) reply(req *ipc.Message, ok bool) {
	typ := ipc.MsgAck
	if !ok {
		typ = ipc.MsgNack
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
	}
	msg := ipc.NewMessage(typ).Priority(ipc.PriorityHigh).Status(uint32(req.SequenceID), nil).Build()
	if err := m.tr.Send(msg); err != nil {
		m.log.Errorw("reply_send_failed", "type", typ.String(), "err", err)
	}
}

func (m *Manager) handleStatusRequest(req *ipc.Message) {
	m.mu.Lock()
	state := m.state
	ble, radio := boolU32(m.bleEnabled), boolU32(m.radioEnabled)
	transitions := m.stats.Transitions
	m.mu.Unlock()

	resp := ipc.NewMessage(ipc.MsgStatusResponse).
		Params(uint32(state), ble, radio, transitions).
		Build()
	if err := m.tr.Send(resp); err != nil {
		m.log.Errorw("status_response_failed", "err", err)
	}
}

func (m *Manager) handleBLEAdvStart(req *ipc.Message) {
	p, ok := req.Payload.(ipc.BLEPayload)
	if !ok || !m.IsBLEEnabled() {
		m.reply(req, false)
		return
	}
	m.countBLEOp()
	err := m.ble.StartAdvertising(p.AdvIntervalMS)
	if err != nil {
		m.log.Warnw("adv_start_failed", "err", err)
	} else {
		m.log.Infow("adv_started", "interval_ms", p.AdvIntervalMS)
	}
	m.reply(req, err == nil)
}

func (m *Manager) handleBLEAdvStop(req *ipc.Message) {
	if !m.IsBLEEnabled() {
		m.reply(req, false)
		return
	}
	m.countBLEOp()
	err := m.ble.StopAdvertising()
	if err != nil {
		m.log.Warnw("adv_stop_failed", "err", err)
	}
	m.reply(req, err == nil)
}

func (m *Manager) handleRadioEnable(req *ipc.Message) {
	m.countRadioOp()
	err := m.radio.Enable()
	if err == nil {
		m.mu.Lock()
		m.radioEnabled = true
		m.mu.Unlock()
	}
	m.reply(req, err == nil)
}

func (m *Manager) handleRadioDisable(req *ipc.Message) {
	m.countRadioOp()
	err := m.radio.Disable()
	if err == nil {
		m.mu.Lock()
		m.radioEnabled = false
		m.mu.Unlock()
	}
	m.reply(req, err == nil)
}

func (m *Manager) handleRadioTx(req *ipc.Message) {
	p, ok := req.Payload.(ipc.RadioPayload)
	if !ok || !m.IsRadioEnabled() {
		m.reply(req, false)
		return
	}
	m.countRadioOp()
	err := m.radio.Transmit(p.Channel, p.PowerDBM, p.Data[:])
	if err != nil {
		m.log.Warnw("radio_tx_failed", "channel", p.Channel, "err", err)
	}
	m.reply(req, err == nil)
}

// Thread 栈跑在网络核，起停请求落在射频子系统上
func (m *Manager) handleThreadStart(req *ipc.Message) {
	p, ok := req.Payload.(ipc.ParamsPayload)
	if !ok || !m.IsRadioEnabled() {
		m.reply(req, false)
		return
	}
	m.countRadioOp()
	m.log.Infow("thread_started", "channel", p[0], "pan_id", p[1])
	m.reply(req, true)
	m.notifyAttach()
}

// 栈起来即以 CHILD 角色入网，向应用核推送角色通知
func (m *Manager) notifyAttach() {
	msg := ipc.NewMessage(ipc.MsgThreadAttach).Params(ipc.RoleChild).Build()
	if err := m.tr.Send(msg); err != nil {
		m.log.Errorw("attach_notify_failed", "err", err)
	}
}

func (m *Manager) handleThreadStop(req *ipc.Message) {
	if !m.IsRadioEnabled() {
		m.reply(req, false)
		return
	}
	m.countRadioOp()
	m.log.Infow("thread_stopped")
	m.reply(req, true)
}

/*=============================================================================
 * 状态与查询
 *===========================================================================*/

func (m *Manager) setState(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == to {
		return
	}
	old := m.state
	m.state = to
	m.stats.Transitions++
	observe.IncTransition("net")
	m.log.Infow("net_state", "from", old.String(), "to", to.String())
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsBLEEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bleEnabled
}

func (m *Manager) IsRadioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.radioEnabled
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) countBLEOp() {
	m.mu.Lock()
	m.stats.BLEOps++
	m.mu.Unlock()
}

func (m *Manager) countRadioOp() {
	m.mu.Lock()
	m.stats.RadioOps++
	m.mu.Unlock()
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
