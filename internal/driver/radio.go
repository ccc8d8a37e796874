package driver

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/pkg/logger"
)

// TxRecord 一次模拟发射的记录
type TxRecord struct {
	Channel  uint8
	PowerDBM int8
	Data     []byte
}

// SimRadio 模拟 802.15.4 射频。发射只进日志，不碰真实硬件。
type SimRadio struct {
	InitErr error
	OpErr   error

	log *zap.SugaredLogger

	mu      sync.Mutex
	enabled bool
	txLog   []TxRecord
}

func NewSimRadio() *SimRadio {
	return &SimRadio{log: logger.M("sim_radio")}
}

func (r *SimRadio) Name() string { return "sim_radio" }

func (r *SimRadio) Init() error {
	if r.InitErr != nil {
		return r.InitErr
	}
	r.log.Infow("radio_init")
	return nil
}

func (r *SimRadio) Enable() error {
	if r.OpErr != nil {
		return r.OpErr
	}
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) Disable() error {
	if r.OpErr != nil {
		return r.OpErr
	}
	r.mu.Lock()
	r.enabled = false
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) Transmit(channel uint8, powerDBM int8, data []byte) error {
	if r.OpErr != nil {
		return r.OpErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrDisabled
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.txLog = append(r.txLog, TxRecord{Channel: channel, PowerDBM: powerDBM, Data: buf})
	r.log.Debugw("radio_tx", "channel", channel, "power_dbm", powerDBM, "len", len(data))
	return nil
}

// TxLog 已发射帧的快照，测试用
func (r *SimRadio) TxLog() []TxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TxRecord, len(r.txLog))
	copy(out, r.txLog)
	return out
}
