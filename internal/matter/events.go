package matter

// Event 应用核事件，经有界队列交给 DispatchEvent 消费
type Event uint8

const (
	// EventNetworkUp 网络已连通
	EventNetworkUp Event = iota + 1
	// EventNetworkDown 网络断开
	EventNetworkDown
	// EventCommissioned 配网完成（fabric 已加入）
	EventCommissioned
)

func (e Event) String() string {
	switch e {
	case EventNetworkUp:
		return "NETWORK_UP"
	case EventNetworkDown:
		return "NETWORK_DOWN"
	case EventCommissioned:
		return "COMMISSIONED"
	default:
		return "UNKNOWN"
	}
}

// MaxPendingEvents 事件队列深度，满则丢弃新事件并告警
const MaxPendingEvents = 64

// AppState 应用核状态机
type AppState uint8

const (
	StateUninitialized AppState = iota
	StateInitializing
	StateIdle
	StateCommissioning
	StateCommissioned
	StateNetworkJoining
	StateNetworkConnected
	StateAppError
)

func (s AppState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateIdle:
		return "IDLE"
	case StateCommissioning:
		return "COMMISSIONING"
	case StateCommissioned:
		return "COMMISSIONED"
	case StateNetworkJoining:
		return "NETWORK_JOINING"
	case StateNetworkConnected:
		return "NETWORK_CONNECTED"
	case StateAppError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// transitions 状态迁移表。ERROR 可从任意状态进入（不在表中单列），
// 从 ERROR 只能回 IDLE。
var transitions = map[AppState][]AppState{
	StateUninitialized:    {StateInitializing},
	StateInitializing:     {StateIdle, StateNetworkJoining},
	StateIdle:             {StateCommissioning, StateNetworkJoining},
	StateCommissioning:    {StateCommissioned, StateIdle},
	StateCommissioned:     {StateNetworkJoining, StateNetworkConnected},
	StateNetworkJoining:   {StateNetworkConnected, StateCommissioned},
	StateNetworkConnected: {StateCommissioned},
	StateAppError:         {StateIdle},
}

func transitionAllowed(from, to AppState) bool {
	if to == StateAppError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
