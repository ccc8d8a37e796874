package ipc

import (
	"encoding/binary"
)

// Payload 24 字节负载区的显式和类型。线上布局与原生 union 完全一致，
// 每个消息 type 只对应一种合法解释，由 decodePayload 按 type 选择变体。
type Payload interface {
	// encode 写入长度为 PayloadSize 的负载区
	encode(b []byte)
}

// RawPayload 原始字节负载（USER_MSG 及未知类型）
type RawPayload [PayloadSize]byte

func (p RawPayload) encode(b []byte) {
	copy(b, p[:])
}

// ParamsPayload 6 个 32 位参数槽（THREAD_* 与 STATUS_RESPONSE）
type ParamsPayload [6]uint32

func (p ParamsPayload) encode(b []byte) {
	for i, v := range p {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
}

// RadioPayload 射频控制负载（RADIO_*）
type RadioPayload struct {
	Channel  uint8
	PowerDBM int8
	// 线上第 2-3 字节保留
	Data [20]byte
}

func (p RadioPayload) encode(b []byte) {
	b[0] = p.Channel
	b[1] = byte(p.PowerDBM)
	b[2], b[3] = 0, 0
	copy(b[4:], p.Data[:])
}

// BLEPayload BLE 广播控制负载（BLE_*）
type BLEPayload struct {
	AdvIntervalMS uint16
	AdvType       uint8
	AdvDataLen    uint8
	AdvData       [20]byte
}

func (p BLEPayload) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], p.AdvIntervalMS)
	b[2] = p.AdvType
	b[3] = p.AdvDataLen
	copy(b[4:], p.AdvData[:])
}

// StatusPayload 状态/应答负载（STATUS_REQUEST、ACK、NACK）。
// ACK/NACK 的 Code 携带被应答请求的 sequence_id，用作关联 ID。
type StatusPayload struct {
	Code uint32
	Info [20]byte
}

func (p StatusPayload) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.Code)
	copy(b[4:], p.Info[:])
}

func decodePayload(t MsgType, b []byte) Payload {
	switch t {
	case MsgRadioEnable, MsgRadioDisable, MsgRadioTx, MsgRadioRx:
		p := RadioPayload{
			Channel:  b[0],
			PowerDBM: int8(b[1]),
		}
		copy(p.Data[:], b[4:])
		return p
	case MsgBLEAdvStart, MsgBLEAdvStop, MsgBLEConnect, MsgBLEDisconnect:
		p := BLEPayload{
			AdvIntervalMS: binary.LittleEndian.Uint16(b[0:2]),
			AdvType:       b[2],
			AdvDataLen:    b[3],
		}
		copy(p.AdvData[:], b[4:])
		return p
	case MsgThreadStart, MsgThreadStop, MsgThreadAttach, MsgStatusResponse:
		var p ParamsPayload
		for i := range p {
			p[i] = binary.LittleEndian.Uint32(b[i*4:])
		}
		return p
	case MsgStatusRequest, MsgAck, MsgNack:
		p := StatusPayload{
			Code: binary.LittleEndian.Uint32(b[0:4]),
		}
		copy(p.Info[:], b[4:])
		return p
	default:
		var p RawPayload
		copy(p[:], b)
		return p
	}
}
