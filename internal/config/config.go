package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 设备配置（YAML），缺省值即出厂配置
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Commissioning CommissioningConfig `yaml:"commissioning"`
	Thread        ThreadConfig        `yaml:"thread"`
	Rejoin        RejoinConfig        `yaml:"rejoin"`
	Health        HealthConfig        `yaml:"health"`
	IPC           IPCConfig           `yaml:"ipc"`
	MetricsAddr   string              `yaml:"metrics_addr"`
}

// DeviceConfig 设备标识，用于 commissioning 展示与持久化
type DeviceConfig struct {
	Name      string `yaml:"name"`
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
	Serial    string `yaml:"serial"`
}

type CommissioningConfig struct {
	Passcode      uint32 `yaml:"passcode"`      // 手动配网 PIN（0-99999999）
	Discriminator uint16 `yaml:"discriminator"` // BLE 配网识别码
	WindowSec     uint32 `yaml:"window_sec"`    // 配网窗口超时（秒）
	AdvIntervalMS uint16 `yaml:"adv_interval_ms"`
}

type ThreadConfig struct {
	Channel     uint8  `yaml:"channel"` // 11-26
	PanID       uint16 `yaml:"pan_id"`
	NetworkName string `yaml:"network_name"`
	TxPowerDBM  int8   `yaml:"tx_power_dbm"`
}

// RejoinConfig 掉线重连的指数退避策略
type RejoinConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// HealthConfig 链路健康评估参数
type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	LossDowngradePct float64       `yaml:"loss_downgrade_pct"`
}

type IPCConfig struct {
	BindTimeout time.Duration `yaml:"bind_timeout"` // 等待对端 endpoint 绑定
	AckTimeout  time.Duration `yaml:"ack_timeout"`  // SendSync 默认等待
	QueueDepth  int           `yaml:"queue_depth"`  // 接收 FIFO 深度
	Addr        string        `yaml:"addr"`         // 双进程模式下的链路地址
}

func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:      "Matter Light",
			VendorID:  0x235A,
			ProductID: 0x0001,
			Serial:    "MLT-2024-0001",
		},
		Commissioning: CommissioningConfig{
			Passcode:      12345678,
			Discriminator: 0xF00D,
			WindowSec:     600,
			AdvIntervalMS: 100,
		},
		Thread: ThreadConfig{
			Channel:     15,
			PanID:       0x1234,
			NetworkName: "Matter-Thread",
			TxPowerDBM:  0,
		},
		Rejoin: RejoinConfig{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   1.5,
			MaxAttempts:  15,
		},
		Health: HealthConfig{
			CheckInterval:    60 * time.Second,
			LossDowngradePct: 10.0,
		},
		IPC: IPCConfig{
			BindTimeout: 5 * time.Second,
			AckTimeout:  time.Second,
			QueueDepth:  16,
			Addr:        getEnv("LIGHTCORE_IPC_ADDR", ":9350"),
		},
		MetricsAddr: getEnv("LIGHTCORE_METRICS_ADDR", ""),
	}
}

// Load 读取 YAML 配置，缺失字段保留缺省值；path 为空时直接返回缺省配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 仅做声明式校验，不修改配置
func Validate(cfg *Config) error {
	if cfg.Commissioning.Passcode > 99999999 {
		return fmt.Errorf("commissioning passcode %d out of range (0-99999999)", cfg.Commissioning.Passcode)
	}
	if cfg.Commissioning.WindowSec == 0 {
		return fmt.Errorf("commissioning window_sec must be positive")
	}
	if cfg.Thread.Channel < 11 || cfg.Thread.Channel > 26 {
		return fmt.Errorf("thread channel %d out of range (11-26)", cfg.Thread.Channel)
	}
	if cfg.Thread.TxPowerDBM < -20 || cfg.Thread.TxPowerDBM > 20 {
		return fmt.Errorf("thread tx_power_dbm %d out of range (-20 to 20)", cfg.Thread.TxPowerDBM)
	}
	if cfg.Rejoin.InitialDelay <= 0 || cfg.Rejoin.MaxDelay < cfg.Rejoin.InitialDelay {
		return fmt.Errorf("rejoin delays invalid: initial=%v max=%v", cfg.Rejoin.InitialDelay, cfg.Rejoin.MaxDelay)
	}
	if cfg.Rejoin.Multiplier < 1.0 {
		return fmt.Errorf("rejoin multiplier %v must be >= 1.0", cfg.Rejoin.Multiplier)
	}
	if cfg.Rejoin.MaxAttempts <= 0 {
		return fmt.Errorf("rejoin max_attempts must be positive")
	}
	if cfg.IPC.BindTimeout <= 0 || cfg.IPC.QueueDepth <= 0 {
		return fmt.Errorf("ipc bind_timeout and queue_depth must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
