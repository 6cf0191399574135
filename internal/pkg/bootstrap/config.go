// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/inventory-service.yaml"

// Config 是服务的完整配置，对应 configs/*.yaml。
type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type InfraConfig struct {
	Storage   StorageConfig   `yaml:"storage"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type StorageConfig struct {
	// Driver 取值 mysql 或 memory，memory 仅用于本地调试
	Driver string `yaml:"driver"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers          string `yaml:"brokers"`
	ReservationTopic string `yaml:"reservation_topic"`
	StoreEventsTopic string `yaml:"store_events_topic"`
	// StoreEventsDLTTopic 为空时不转发死信
	StoreEventsDLTTopic string `yaml:"store_events_dlt_topic"`
	ConsumerGroup       string `yaml:"consumer_group"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// InventoryConfig 收纳库存预占相关的运行参数（重试上限、过期窗口等）。
type InventoryConfig struct {
	Ledger     LedgerConfig     `yaml:"ledger"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Cart       CartConfig       `yaml:"cart"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

type LedgerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type ReconcilerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	StalenessWindow time.Duration `yaml:"staleness_window"`
	BatchSize       int           `yaml:"batch_size"`
	DistributedLock bool          `yaml:"distributed_lock"`
}

type CartConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type CatalogConfig struct {
	ServiceName string        `yaml:"service_name"`
	Timeout     time.Duration `yaml:"timeout"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，未初始化时返回默认配置。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// Init 从 CONFIG_PATH 指定的文件加载配置，并应用环境变量覆盖。
func Init() *Config {
	cfg, err := LoadConfig(getEnv("CONFIG_PATH", defaultConfigPath))
	if err != nil {
		// 配置文件缺失时退回默认值，保证本地可以直接启动
		fmt.Fprintf(os.Stderr, "WARN: %v, falling back to defaults\n", err)
		cfg = DefaultConfig()
		applyEnvOverrides(cfg)
	}
	currentConfig.Store(cfg)
	return cfg
}

// LoadConfig 读取并解析一个 YAML 配置文件。
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig 在默认配置之上解析 YAML 内容。
func ParseConfig(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查运行参数是否合法。
func (c *Config) Validate() error {
	switch c.Infra.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Infra.Storage.Driver)
	}
	if c.Inventory.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("inventory.ledger.max_attempts must be >= 1, got %d", c.Inventory.Ledger.MaxAttempts)
	}
	if c.Inventory.Reconciler.Interval <= 0 {
		return fmt.Errorf("inventory.reconciler.interval must be positive")
	}
	if c.Inventory.Reconciler.StalenessWindow <= 0 {
		return fmt.Errorf("inventory.reconciler.staleness_window must be positive")
	}
	if c.Inventory.Reconciler.BatchSize < 1 {
		return fmt.Errorf("inventory.reconciler.batch_size must be >= 1")
	}
	return nil
}

// DefaultConfig 返回一份可以直接在本地运行的默认配置。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "inventory-service",
			Port:     8082,
			LogLevel: "info",
		},
		Infra: InfraConfig{
			Storage: StorageConfig{Driver: "mysql"},
			MySQL: MySQLConfig{
				DSN:             "root:root@tcp(localhost:3306)/marketplace?charset=utf8mb4&parseTime=True&loc=Local",
				MaxOpenConns:    50,
				MaxIdleConns:    10,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{Addrs: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers:             "localhost:9092",
				ReservationTopic:    "inventory-reservation-events",
				StoreEventsTopic:    "store-events",
				StoreEventsDLTTopic: "store-events-dlt",
				ConsumerGroup:       "inventory-service-group",
			},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
		},
		Inventory: InventoryConfig{
			Ledger: LedgerConfig{
				MaxAttempts:    5,
				InitialBackoff: 20 * time.Millisecond,
				MaxBackoff:     500 * time.Millisecond,
			},
			Reconciler: ReconcilerConfig{
				Enabled:         true,
				Interval:        60 * time.Second,
				StalenessWindow: 15 * time.Minute,
				BatchSize:       100,
			},
			Cart:    CartConfig{TTL: 30 * 24 * time.Hour},
			Catalog: CatalogConfig{ServiceName: "product-service", Timeout: 3 * time.Second},
		},
	}
}

// applyEnvOverrides 让部署环境可以覆盖基础设施地址。
func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Infra.Storage.Driver)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Infra.Zookeeper.Servers = getEnv("ZOOKEEPER_SERVERS", cfg.Infra.Zookeeper.Servers)
}

// KafkaBrokerList 把逗号分隔的 broker 地址拆成切片。
func (c *Config) KafkaBrokerList() []string {
	return splitAndTrim(c.Infra.Kafka.Brokers)
}

// ZookeeperServerList 把逗号分隔的 zookeeper 地址拆成切片。
func (c *Config) ZookeeperServerList() []string {
	return splitAndTrim(c.Infra.Zookeeper.Servers)
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
