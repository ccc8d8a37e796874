package thread

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// Health 链路健康等级
type Health uint8

const (
	HealthUnknown Health = iota
	HealthPoor
	HealthFair
	HealthGood
	HealthExcellent
)

func (h Health) String() string {
	switch h {
	case HealthPoor:
		return "POOR"
	case HealthFair:
		return "FAIR"
	case HealthGood:
		return "GOOD"
	case HealthExcellent:
		return "EXCELLENT"
	default:
		return "UNKNOWN"
	}
}

// RSSI 分档阈值（dBm）
const (
	rssiPoorBelow = -95
	rssiFairBelow = -80
	rssiGoodBelow = -65
)

// HealthSink 健康等级变化回调，仅在等级实际变化时触发
type HealthSink func(h Health)

// DisconnectSink 链路断开回调
type DisconnectSink func()

// ResilienceManager 基于 RSSI 分档和丢包率评估链路健康，
// 并对链路上下线做掉线计数和停机时长统计。
type ResilienceManager struct {
	log           *zap.SugaredLogger
	lossThreshold float64

	mu            sync.Mutex
	health        Health
	onHealth      HealthSink
	onDisconnect  DisconnectSink
	lastRSSI      int8
	lastLossPct   float64
	linkUp        bool
	downAt        time.Time
	connectedAt   time.Time
	totalDowntime time.Duration
	disconnects   uint32
	startedAt     time.Time
}

func NewResilienceManager(lossThresholdPct float64) *ResilienceManager {
	return &ResilienceManager{
		log:           logger.M("resilience"),
		lossThreshold: lossThresholdPct,
		health:        HealthUnknown,
		startedAt:     time.Now(),
	}
}

func (r *ResilienceManager) SetHealthSink(fn HealthSink) {
	r.mu.Lock()
	r.onHealth = fn
	r.mu.Unlock()
}

func (r *ResilienceManager) SetDisconnectSink(fn DisconnectSink) {
	r.mu.Lock()
	r.onDisconnect = fn
	r.mu.Unlock()
}

// classify 纯函数：RSSI 分档，丢包超限在 POOR 之上降一档
func (r *ResilienceManager) classify(rssi int8, lossPct float64) Health {
	var h Health
	switch {
	case rssi < rssiPoorBelow:
		h = HealthPoor
	case rssi < rssiFairBelow:
		h = HealthFair
	case rssi < rssiGoodBelow:
		h = HealthGood
	default:
		h = HealthExcellent
	}
	if lossPct > r.lossThreshold && h > HealthPoor {
		h--
	}
	return h
}

// UpdateHealth 重新评估健康等级，等级变化才触发回调
func (r *ResilienceManager) UpdateHealth(rssi int8, lossPct float64) Health {
	r.mu.Lock()
	r.lastRSSI, r.lastLossPct = rssi, lossPct
	h := r.classify(rssi, lossPct)
	changed := h != r.health
	r.health = h
	fn := r.onHealth
	r.mu.Unlock()

	observe.SetNetworkHealth(float64(h))
	if changed {
		r.log.Infow("health_changed", "health", h.String(), "rssi", rssi, "loss_pct", lossPct)
		if fn != nil {
			fn(h)
		}
	}
	return h
}

func (r *ResilienceManager) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

// OnLinkDown 链路断开：盖戳、计数、健康强制 POOR 并触发断开回调
func (r *ResilienceManager) OnLinkDown() {
	r.mu.Lock()
	r.linkUp = false
	r.downAt = time.Now()
	r.disconnects++
	changed := r.health != HealthPoor
	r.health = HealthPoor
	onHealth, onDisconnect := r.onHealth, r.onDisconnect
	n := r.disconnects
	r.mu.Unlock()

	observe.IncDisconnect()
	observe.SetNetworkHealth(float64(HealthPoor))
	r.log.Warnw("link_down", "disconnects", n)
	if changed && onHealth != nil {
		onHealth(HealthPoor)
	}
	if onDisconnect != nil {
		onDisconnect()
	}
}

// OnLinkUp 链路恢复：累计停机时长并按最近一次链路质量重评健康
func (r *ResilienceManager) OnLinkUp() {
	r.mu.Lock()
	if !r.linkUp && !r.downAt.IsZero() {
		r.totalDowntime += time.Since(r.downAt)
	}
	r.linkUp = true
	r.connectedAt = time.Now()
	rssi, loss := r.lastRSSI, r.lastLossPct
	down := r.totalDowntime
	r.mu.Unlock()

	r.log.Infow("link_up", "total_downtime", down)
	r.UpdateHealth(rssi, loss)
}

func (r *ResilienceManager) Disconnects() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

func (r *ResilienceManager) TotalDowntime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalDowntime
}

// ConnectedTime 本次链路在线时长，链路不在线时为 0
func (r *ResilienceManager) ConnectedTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.linkUp || r.connectedAt.IsZero() {
		return 0
	}
	return time.Since(r.connectedAt)
}

func (r *ResilienceManager) ResetStatistics() {
	r.mu.Lock()
	r.disconnects = 0
	r.totalDowntime = 0
	r.startedAt = time.Now()
	r.mu.Unlock()
	r.log.Infow("resilience_stats_reset")
}

// HealthReport 人读快照，用于日志输出
func (r *ResilienceManager) HealthReport() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("health=%s rssi=%d loss=%.1f%% disconnects=%d downtime=%s",
		r.health.String(), r.lastRSSI, r.lastLossPct, r.disconnects, r.totalDowntime)
}
