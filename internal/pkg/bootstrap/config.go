// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"inventory-saga/internal/pkg/logger"
)

// Config 是所有服务共享的配置结构
type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Messaging MessagingConfig `yaml:"messaging"`
	Order     OrderConfig     `yaml:"order"`
}

type AppConfig struct {
	Env       string `yaml:"env"`
	Storage   string `yaml:"storage"` // mysql | memory
	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sampleRatio"`
	} `yaml:"jaeger"`
	MySQL     MySQLConfig `yaml:"mysql"`
	Kafka     KafkaConfig `yaml:"kafka"`
	Redis     RedisConfig `yaml:"redis"`
	Zookeeper struct {
		Servers        string        `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"sessionTimeout"`
		LockRoot       string        `yaml:"lockRoot"`
	} `yaml:"zookeeper"`
	Nacos NacosConfig `yaml:"nacos"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	TopicPartitions   int      `yaml:"topicPartitions"`
	ReplicationFactor int      `yaml:"replicationFactor"`
}

type RedisConfig struct {
	Addrs    string        `yaml:"addrs"`
	DedupTTL time.Duration `yaml:"dedupTTL"`
}

type NacosConfig struct {
	ServerAddrs  string `yaml:"serverAddrs"`
	Namespace    string `yaml:"namespace"`
	Group        string `yaml:"group"`
	ConfigDataID string `yaml:"configDataId"`
}

// MessagingConfig 描述 topic 拓扑与补偿消息的重试策略
type MessagingConfig struct {
	StockTopic           string        `yaml:"stockTopic"`
	RollbackPattern      string        `yaml:"rollbackPattern"`
	RollbackTopics       []string      `yaml:"rollbackTopics"` // 启动时预先创建并始终订阅
	RetryTopic           string        `yaml:"retryTopic"`
	DeadLetterTopic      string        `yaml:"deadLetterTopic"`
	ConsumerGroup        string        `yaml:"consumerGroup"`
	ConsumerWorkers      int           `yaml:"consumerWorkers"`
	MaxAttempts          int           `yaml:"maxAttempts"`
	RetryDelay           time.Duration `yaml:"retryDelay"`
	DeadLetterExpression string        `yaml:"deadLetterExpression"`
}

type OrderConfig struct {
	InventoryServiceName string        `yaml:"inventoryServiceName"`
	InventoryURL         string        `yaml:"inventoryUrl"` // 设置后跳过服务发现
	RPCTimeout           time.Duration `yaml:"rpcTimeout"`
	ProcessingTimeout    time.Duration `yaml:"processingTimeout"`
}

// DefaultConfig 返回本地开发环境可直接使用的默认值
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Env = "dev"
	cfg.App.LogLevel = "info"
	cfg.App.Storage = "mysql"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Jaeger.SampleRatio = 1
	cfg.Infra.MySQL = MySQLConfig{
		Host:            "localhost",
		Port:            3306,
		User:            "root",
		Password:        "root",
		Database:        "inventory",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
	cfg.Infra.Kafka = KafkaConfig{Brokers: []string{"localhost:9092"}, TopicPartitions: 3, ReplicationFactor: 1}
	cfg.Infra.Redis = RedisConfig{Addrs: "localhost:6379", DedupTTL: 24 * time.Hour}
	cfg.Infra.Zookeeper.SessionTimeout = 5 * time.Second
	cfg.Infra.Zookeeper.LockRoot = "/inventory_locks"
	cfg.Infra.Nacos = NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"}
	cfg.Messaging = MessagingConfig{
		StockTopic:      "product.update.sync",
		RollbackPattern: "inventory.rollback.*",
		RollbackTopics:  []string{"inventory.rollback.shipment_lost", "inventory.rollback.order_cancelled", "inventory.rollback.payment_failed"},
		RetryTopic:      "inventory.retry.rollback",
		DeadLetterTopic: "inventory.dlq.rollback",
		ConsumerGroup:   "inventory-compensation-group",
		ConsumerWorkers: 1,
		MaxAttempts:     5,
		RetryDelay:      5 * time.Second,
	}
	cfg.Order = OrderConfig{
		InventoryServiceName: "inventory-service",
		RPCTimeout:           3 * time.Second,
		ProcessingTimeout:    30 * time.Second,
	}
	return cfg
}

var current atomic.Pointer[Config]

func init() {
	current.Store(DefaultConfig())
}

// GetCurrentConfig 返回当前生效的配置快照，调用方不应修改返回值
func GetCurrentConfig() *Config {
	return current.Load()
}

// Init 从 CONFIG_FILE（默认 configs/<serviceName>.yaml）加载配置并应用环境变量覆盖，然后初始化日志
func Init(serviceName string) *Config {
	cfg := DefaultConfig()
	path := getEnv("CONFIG_FILE", "configs/"+serviceName+".yaml")
	if raw, err := os.ReadFile(path); err == nil {
		if err := ParseConfig(raw, cfg); err != nil {
			logger.L().Fatal().Err(err).Str("path", path).Msg("invalid config file")
		}
	} else if !os.IsNotExist(err) {
		logger.L().Fatal().Err(err).Str("path", path).Msg("cannot read config file")
	}
	applyEnvOverrides(cfg)
	current.Store(cfg)

	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.LogPretty)
	return cfg
}

// ParseConfig 把 YAML 内容合并到 cfg 上，未出现的字段保持原值
func ParseConfig(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.Wrap(err, "parse yaml config")
	}
	return nil
}

// reload 由配置中心推送触发，在当前配置的副本上合并新内容
func reload(content string) {
	next := *GetCurrentConfig()
	if err := ParseConfig([]byte(content), &next); err != nil {
		logger.L().Error().Err(err).Msg("ignored invalid remote config")
		return
	}
	applyEnvOverrides(&next)
	current.Store(&next)
	logger.L().Info().Msg("remote config applied")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDRS"); v != "" {
		cfg.Infra.Redis.Addrs = v
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = v
	}
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		cfg.Infra.MySQL.Host = v
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		cfg.Infra.MySQL.Password = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("INVENTORY_URL"); v != "" {
		cfg.Order.InventoryURL = v
	}
	if v := os.Getenv("STORAGE"); v != "" {
		cfg.App.Storage = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
}

// EnvInt 读取整数环境变量，缺失或非法时返回 fallback
func EnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
