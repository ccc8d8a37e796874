package matter

import (
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/settings"
	"github.com/hongjun500/lightcore/pkg/logger"
)

// 端点属性的持久化键
const (
	keyOnOff     = "mt/ep/onoff"
	keyLevel     = "mt/ep/level"
	keyColorTemp = "mt/ep/colortemp"
)

// 亮度取值范围（cluster 语义：0 保留，255 非法）
const (
	MinLevel uint8 = 1
	MaxLevel uint8 = 254
)

// LightEndpoint 灯端点的三个属性：开关、亮度、色温。
// 未变化的写入直接短路；属性写入尽力持久化，失败只告警不上抛。
type LightEndpoint struct {
	store settings.Store
	log   *zap.SugaredLogger

	mu         sync.Mutex
	on         bool
	level      uint8
	colorTempK uint16
}

// NewLightEndpoint 创建端点并从存储恢复上次的属性值
func NewLightEndpoint(store settings.Store) *LightEndpoint {
	ep := &LightEndpoint{
		store:      store,
		log:        logger.M("endpoint"),
		level:      MaxLevel,
		colorTempK: 4000,
	}
	ep.restore()
	return ep
}

func (ep *LightEndpoint) restore() {
	if v, ok := ep.store.Get(keyOnOff); ok && len(v) == 1 {
		ep.on = v[0] != 0
	}
	if v, ok := ep.store.Get(keyLevel); ok && len(v) == 1 {
		ep.level = clampLevel(v[0])
	}
	if v, ok := ep.store.Get(keyColorTemp); ok && len(v) == 2 {
		ep.colorTempK = binary.LittleEndian.Uint16(v)
	}
	ep.log.Infow("endpoint_restored", "on", ep.on, "level", ep.level, "color_temp_k", ep.colorTempK)
}

// SetOnOff 写开关属性，值未变化时为空操作
func (ep *LightEndpoint) SetOnOff(on bool) {
	ep.mu.Lock()
	if ep.on == on {
		ep.mu.Unlock()
		return
	}
	ep.on = on
	ep.mu.Unlock()

	var b byte
	if on {
		b = 1
	}
	ep.persist(keyOnOff, []byte{b})
	ep.log.Infow("onoff_set", "on", on)
}

func (ep *LightEndpoint) OnOff() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.on
}

// SetLevel 写亮度属性，夹取到 [1, 254]，返回实际生效值
func (ep *LightEndpoint) SetLevel(level uint8) uint8 {
	level = clampLevel(level)
	ep.mu.Lock()
	if ep.level == level {
		ep.mu.Unlock()
		return level
	}
	ep.level = level
	ep.mu.Unlock()

	ep.persist(keyLevel, []byte{level})
	ep.log.Infow("level_set", "level", level)
	return level
}

func (ep *LightEndpoint) Level() uint8 {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.level
}

// SetColorTemp 写色温属性（开尔文），值未变化时为空操作
func (ep *LightEndpoint) SetColorTemp(kelvin uint16) {
	ep.mu.Lock()
	if ep.colorTempK == kelvin {
		ep.mu.Unlock()
		return
	}
	ep.colorTempK = kelvin
	ep.mu.Unlock()

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, kelvin)
	ep.persist(keyColorTemp, buf)
	ep.log.Infow("color_temp_set", "kelvin", kelvin)
}

func (ep *LightEndpoint) ColorTemp() uint16 {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.colorTempK
}

// persist 属性持久化是尽力而为，失败只告警
func (ep *LightEndpoint) persist(key string, val []byte) {
	if err := ep.store.SaveOne(key, val); err != nil {
		ep.log.Warnw("attribute_persist_failed", "key", key, "err", err)
	}
}

func clampLevel(v uint8) uint8 {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}
