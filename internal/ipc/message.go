package ipc

import (
	"encoding/binary"
)

// MsgType 跨核消息类型，数值即线上字节，两核必须一致
type MsgType uint8

const (
	// Radio control
	MsgRadioEnable  MsgType = 0x01
	MsgRadioDisable MsgType = 0x02
	MsgRadioTx      MsgType = 0x03
	MsgRadioRx      MsgType = 0x04

	// BLE operations
	MsgBLEAdvStart   MsgType = 0x10
	MsgBLEAdvStop    MsgType = 0x11
	MsgBLEConnect    MsgType = 0x12
	MsgBLEDisconnect MsgType = 0x13

	// Thread/Matter networking
	MsgThreadStart  MsgType = 0x20
	MsgThreadStop   MsgType = 0x21
	MsgThreadAttach MsgType = 0x22

	// Status/Control
	MsgStatusRequest  MsgType = 0x30
	MsgStatusResponse MsgType = 0x31
	MsgAck            MsgType = 0x32
	MsgNack           MsgType = 0x33

	// Custom user messages
	MsgUser MsgType = 0x40
)

// 0x00 与 0xFF 均为非法 type：零值表示未初始化，全 1 作哨兵保留
const msgTypeSentinel MsgType = 0xFF

// THREAD_ATTACH 的 params[0] 角色码，网络核向应用核报告入网角色
const (
	RoleChild  uint32 = 1
	RoleRouter uint32 = 2
	RoleLeader uint32 = 3
)

// Priority 消息优先级，仅作元数据，传输层本身按 FIFO 投递
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

const (
	// MessageSize 固定帧长，两核之间按字节原样拷贝（同字节序，无转换）
	MessageSize = 32
	// PayloadSize 负载区长度
	PayloadSize = 24
	headerSize  = MessageSize - PayloadSize
)

// Message 跨核消息信封。SequenceID 与 Timestamp 由发送端在 Send 时盖戳，
// 调用方只需填 Type/Priority/Flags/Payload。值类型，每次发送新建，不复用。
type Message struct {
	Type       MsgType
	Priority   Priority
	Flags      uint8
	SequenceID uint8
	Timestamp  uint32 // 发送时刻的单调毫秒
	Payload    Payload
}

func (t MsgType) String() string {
	switch t {
	case MsgRadioEnable:
		return "RADIO_ENABLE"
	case MsgRadioDisable:
		return "RADIO_DISABLE"
	case MsgRadioTx:
		return "RADIO_TX"
	case MsgRadioRx:
		return "RADIO_RX"
	case MsgBLEAdvStart:
		return "BLE_ADV_START"
	case MsgBLEAdvStop:
		return "BLE_ADV_STOP"
	case MsgBLEConnect:
		return "BLE_CONNECT"
	case MsgBLEDisconnect:
		return "BLE_DISCONNECT"
	case MsgThreadStart:
		return "THREAD_START"
	case MsgThreadStop:
		return "THREAD_STOP"
	case MsgThreadAttach:
		return "THREAD_ATTACH"
	case MsgStatusRequest:
		return "STATUS_REQUEST"
	case MsgStatusResponse:
		return "STATUS_RESPONSE"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	case MsgUser:
		return "USER_MSG"
	default:
		return "UNKNOWN"
	}
}

// Validate 发送侧校验：type 不得为零值或哨兵值，priority 不得超过 CRITICAL
func (m *Message) Validate() error {
	if m.Type == 0 || m.Type == msgTypeSentinel {
		return ErrInvalidMessage
	}
	if m.Priority > PriorityCritical {
		return ErrInvalidMessage
	}
	return nil
}

// Marshal 编码为固定 32 字节帧，多字节字段小端（Cortex-M33 两核同字节序）
func (m *Message) Marshal() []byte {
	frame := make([]byte, MessageSize)
	frame[0] = byte(m.Type)
	frame[1] = byte(m.Priority)
	frame[2] = m.Flags
	frame[3] = m.SequenceID
	binary.LittleEndian.PutUint32(frame[4:8], m.Timestamp)
	if m.Payload != nil {
		m.Payload.encode(frame[headerSize:])
	}
	return frame
}

// Unmarshal 解码一帧。唯一的硬性检查：帧长必须等于 MessageSize，
// 截断帧和超长帧一律整帧拒绝，绝不做部分解析。
func Unmarshal(frame []byte) (Message, error) {
	if len(frame) != MessageSize {
		return Message{}, ErrBadFrameSize
	}
	m := Message{
		Type:       MsgType(frame[0]),
		Priority:   Priority(frame[1]),
		Flags:      frame[2],
		SequenceID: frame[3],
		Timestamp:  binary.LittleEndian.Uint32(frame[4:8]),
	}
	m.Payload = decodePayload(m.Type, frame[headerSize:])
	return m, nil
}
