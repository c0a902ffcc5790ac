package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/mq"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RpcConfig Solana JSON-RPC 配置
type RpcConfig struct {
	Endpoint       string `yaml:"endpoint"`         // 例如 https://api.mainnet-beta.solana.com
	TimeoutMs      int    `yaml:"timeout_ms"`       // 单次 RPC 调用超时（毫秒），只作用于余额刷新等后台任务
	PriceIntervalS int    `yaml:"price_interval_s"` // Pyth 价格同步间隔（秒），0 表示不同步价格
}

// SendConfig 发送流程参数
type SendConfig struct {
	Network               string `yaml:"network"`                 // CAIP-2 链标识
	DebounceMs            int    `yaml:"debounce_ms"`             // 输入防抖窗口（毫秒）
	DefaultFeeLamports    uint64 `yaml:"default_fee_lamports"`    // 首次估算前使用的手续费
	RentExemptionLamports uint64 `yaml:"rent_exemption_lamports"` // RPC 不可用时的免租金最低余额
}

func (c *SendConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// AccountConfig 本地账户（钱包 keyring 的替身）
type AccountConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// AssetConfig 额外注册的 SPL Token
type AssetConfig struct {
	Mint     string `yaml:"mint"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"` // 为空时不镜像余额
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	BalanceTTLS int    `yaml:"balance_ttl_s"` // 余额镜像过期时间（秒）
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置
type KafkaProducerConfig struct {
	Brokers       string `yaml:"brokers"`         // 为空时不发布事件
	BatchSize     int    `yaml:"batch_size"`      // 批处理大小（单位字节）
	LingerMs      int    `yaml:"linger_ms"`       // 批处理最大延迟（毫秒）
	SendTimeoutMs int    `yaml:"send_timeout_ms"` // 单条事件等待 ack 的超时

	Topics struct {
		Preview string `yaml:"preview"` // 预览构建事件
		Balance string `yaml:"balance"` // 余额对账事件
	} `yaml:"topics"`

	Partitions struct {
		Preview int `yaml:"preview"`
		Balance int `yaml:"balance"`
	} `yaml:"partitions"`
}

func (c *KafkaProducerConfig) ToKafkaOption() mq.KafkaProducerOption {
	return mq.KafkaProducerOption{
		Brokers:   c.Brokers,
		BatchSize: c.BatchSize,
		LingerMs:  c.LingerMs,
		Topics: []mq.TopicOption{
			{Topic: c.Topics.Preview, Partitions: c.Partitions.Preview},
			{Topic: c.Topics.Balance, Partitions: c.Partitions.Balance},
		},
	}
}

type BalanceSyncConfig struct {
	IntervalS   int `yaml:"interval_s"`  // 全量刷新间隔（秒），默认 30
	Concurrency int `yaml:"concurrency"` // 并发拉取的账户数
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // 例如 ":9102"，为空时不暴露
}

// PreviewConfig 主配置
type PreviewConfig struct {
	LogConf           LogConfig           `yaml:"logger"`
	Rpc               RpcConfig           `yaml:"rpc"`
	Send              SendConfig          `yaml:"send"`
	Accounts          []AccountConfig     `yaml:"accounts"`
	Assets            []AssetConfig       `yaml:"assets"`
	Redis             RedisConfig         `yaml:"redis"`
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"`
	BalanceSync       BalanceSyncConfig   `yaml:"balance_sync"`
	Metrics           MetricsConfig       `yaml:"metrics"`
}

// Load 读取并校验配置文件
func Load(path string) (PreviewConfig, error) {
	var c PreviewConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func MustLoad(path string) PreviewConfig {
	c, err := Load(path)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *PreviewConfig) setDefaults() {
	if c.Send.Network == "" {
		c.Send.Network = consts.NetworkMainnet
	}
	if c.Send.DebounceMs <= 0 {
		c.Send.DebounceMs = consts.DefaultDebounceMs
	}
	if c.Send.DefaultFeeLamports == 0 {
		c.Send.DefaultFeeLamports = consts.DefaultFeeLamports
	}
	if c.Send.RentExemptionLamports == 0 {
		c.Send.RentExemptionLamports = consts.DefaultRentExemptionLamports
	}
	if c.Rpc.TimeoutMs <= 0 {
		c.Rpc.TimeoutMs = 5000
	}
	if c.BalanceSync.IntervalS <= 0 {
		c.BalanceSync.IntervalS = 30
	}
	if c.BalanceSync.Concurrency <= 0 {
		c.BalanceSync.Concurrency = 4
	}
	if c.KafkaProducerConf.SendTimeoutMs <= 0 {
		c.KafkaProducerConf.SendTimeoutMs = 5000
	}
}

func (c *PreviewConfig) validate() error {
	if c.Rpc.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for _, a := range c.Assets {
		if a.Mint == "" || a.Symbol == "" {
			return fmt.Errorf("asset entry requires mint and symbol")
		}
	}
	return nil
}
