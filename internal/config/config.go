package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Scan       ScanConfig       `yaml:"scan" json:"scan"`
	Webhook    WebhookConfig    `yaml:"webhook" json:"webhook"`
	Withdrawal WithdrawalConfig `yaml:"withdrawal" json:"withdrawal"`
	Collection CollectionConfig `yaml:"collection" json:"collection"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置 (brokers 为空时事件发布关闭)
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL          string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs   []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	ContractAddress string   `yaml:"contract_address" json:"contract_address"`
	TokenDecimals   int32    `yaml:"token_decimals" json:"token_decimals"`
	TokenSymbol     string   `yaml:"token_symbol" json:"token_symbol"`
	// FundingPrivateKey 热钱包私钥 (提现与归集 gas 预付出资方)
	FundingPrivateKey string `yaml:"funding_private_key" json:"-"`
}

// ScanConfig 扫描配置
type ScanConfig struct {
	StartBlock     uint64 `yaml:"start_block" json:"start_block"`
	Confirmations  uint64 `yaml:"confirmations" json:"confirmations"`
	IntervalSec    int    `yaml:"interval_sec" json:"interval_sec"`
	BatchSize      uint64 `yaml:"batch_size" json:"batch_size"`
	MinBatchSize   uint64 `yaml:"min_batch_size" json:"min_batch_size"`
	MaxBatchSize   uint64 `yaml:"max_batch_size" json:"max_batch_size"`
	ChunkSize      uint64 `yaml:"chunk_size" json:"chunk_size"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
	// DistributedLock 多实例部署时启用 Redis 扫描锁
	DistributedLock bool `yaml:"distributed_lock" json:"distributed_lock"`
}

// WebhookConfig 回调配置
type WebhookConfig struct {
	DepositURL    string `yaml:"deposit_url" json:"deposit_url"`
	WithdrawalURL string `yaml:"withdrawal_url" json:"withdrawal_url"`
	Secret        string `yaml:"secret" json:"-"`
	TimeoutSec    int    `yaml:"timeout_sec" json:"timeout_sec"`
	// RetentionDays 终态回调与已通知转账的留存天数
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// WithdrawalConfig 提现配置
type WithdrawalConfig struct {
	SweepIntervalSec int `yaml:"sweep_interval_sec" json:"sweep_interval_sec"`
	SweepBatchSize   int `yaml:"sweep_batch_size" json:"sweep_batch_size"`
	MaxManualRetries int `yaml:"max_manual_retries" json:"max_manual_retries"`
}

// CollectionConfig 归集配置
type CollectionConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	IntervalSec     int    `yaml:"interval_sec" json:"interval_sec"`
	Threshold       string `yaml:"threshold" json:"threshold"` // 展示单位
	TreasuryAddress string `yaml:"treasury_address" json:"treasury_address"`
	GasAmount       string `yaml:"gas_amount" json:"gas_amount"` // 原生币原始单位
	SettleDelaySec  int    `yaml:"settle_delay_sec" json:"settle_delay_sec"`
	MaxPerCycle     int    `yaml:"max_per_cycle" json:"max_per_cycle"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "chain-notify"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8086
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.TokenDecimals == 0 {
		cfg.Blockchain.TokenDecimals = 6
	}
	if cfg.Blockchain.TokenSymbol == "" {
		cfg.Blockchain.TokenSymbol = "USDT"
	}

	if cfg.Scan.Confirmations == 0 {
		cfg.Scan.Confirmations = 12
	}
	if cfg.Scan.IntervalSec == 0 {
		cfg.Scan.IntervalSec = 3
	}
	if cfg.Scan.BatchSize == 0 {
		cfg.Scan.BatchSize = 200
	}
	if cfg.Scan.MinBatchSize == 0 {
		cfg.Scan.MinBatchSize = 50
	}
	if cfg.Scan.MaxBatchSize == 0 {
		cfg.Scan.MaxBatchSize = 2000
	}
	if cfg.Scan.ChunkSize == 0 {
		cfg.Scan.ChunkSize = 200
	}
	if cfg.Scan.MaxConcurrency == 0 {
		cfg.Scan.MaxConcurrency = 5
	}

	if cfg.Webhook.TimeoutSec == 0 {
		cfg.Webhook.TimeoutSec = 10
	}
	if cfg.Webhook.RetentionDays == 0 {
		cfg.Webhook.RetentionDays = 7
	}

	if cfg.Withdrawal.SweepIntervalSec == 0 {
		cfg.Withdrawal.SweepIntervalSec = 60
	}
	if cfg.Withdrawal.SweepBatchSize == 0 {
		cfg.Withdrawal.SweepBatchSize = 10
	}
	if cfg.Withdrawal.MaxManualRetries == 0 {
		cfg.Withdrawal.MaxManualRetries = 3
	}

	if cfg.Collection.IntervalSec == 0 {
		cfg.Collection.IntervalSec = 600
	}
	if cfg.Collection.SettleDelaySec == 0 {
		cfg.Collection.SettleDelaySec = 15
	}
	if cfg.Collection.MaxPerCycle == 0 {
		cfg.Collection.MaxPerCycle = 20
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
