package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
// 配置加载后以显式值传入各组件构造函数，核心包内不放可变全局状态
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AccountEvents     string `mapstructure:"account_events"`
	TransactionEvents string `mapstructure:"transaction_events"`
}

type BusinessConfig struct {
	// 微信支付通道费率，如 "0.006"
	CommissionRatio string `mapstructure:"commission_ratio"`
	// 管理费比例（按订单应收计），如 "0.2"
	ManagementFeeRatio string `mapstructure:"management_fee_ratio"`
	// 小池分账比例，剩余进大池
	SmallPoolRatio string `mapstructure:"small_pool_ratio"`
	// saga 批次等待超时（秒），超时一律按失败处理
	SagaTimeoutSeconds int `mapstructure:"saga_timeout_seconds"`
	// 重放锁超时（秒）
	ReplayLockSeconds int `mapstructure:"replay_lock_seconds"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}
