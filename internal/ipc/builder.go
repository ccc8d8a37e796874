package ipc

// MessageBuilder 链式构造消息，统一消息创建逻辑。
// SequenceID 和 Timestamp 留给传输层在发送时盖戳。
type MessageBuilder struct {
	msg Message
}

func NewMessage(t MsgType) *MessageBuilder {
	return &MessageBuilder{
		msg: Message{
			Type:     t,
			Priority: PriorityNormal,
		},
	}
}

func (b *MessageBuilder) Priority(p Priority) *MessageBuilder {
	b.msg.Priority = p
	return b
}

func (b *MessageBuilder) Flags(f uint8) *MessageBuilder {
	b.msg.Flags = f
	return b
}

// Params 填充参数槽，最多 6 个，超出部分忽略
func (b *MessageBuilder) Params(vals ...uint32) *MessageBuilder {
	var p ParamsPayload
	for i, v := range vals {
		if i >= len(p) {
			break
		}
		p[i] = v
	}
	b.msg.Payload = p
	return b
}

// Raw 填充原始字节负载，超过 PayloadSize 的部分截断
func (b *MessageBuilder) Raw(data []byte) *MessageBuilder {
	var p RawPayload
	copy(p[:], data)
	b.msg.Payload = p
	return b
}

func (b *MessageBuilder) Radio(channel uint8, powerDBM int8, data []byte) *MessageBuilder {
	p := RadioPayload{Channel: channel, PowerDBM: powerDBM}
	copy(p.Data[:], data)
	b.msg.Payload = p
	return b
}

func (b *MessageBuilder) BLE(intervalMS uint16, advType uint8, data []byte) *MessageBuilder {
	p := BLEPayload{AdvIntervalMS: intervalMS, AdvType: advType}
	if len(data) > len(p.AdvData) {
		data = data[:len(p.AdvData)]
	}
	p.AdvDataLen = uint8(len(data))
	copy(p.AdvData[:], data)
	b.msg.Payload = p
	return b
}

func (b *MessageBuilder) Status(code uint32, info []byte) *MessageBuilder {
	p := StatusPayload{Code: code}
	copy(p.Info[:], info)
	b.msg.Payload = p
	return b
}

func (b *MessageBuilder) Build() *Message {
	m := b.msg
	return &m
}
