package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_MergesOverDefaults(t *testing.T) {
	cfg := DefaultConfig()
	raw := []byte(`
app:
  storage: memory
infra:
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
  zookeeper:
    servers: zk:2181
messaging:
  maxAttempts: 8
  retryDelay: 30s
  deadLetterExpression: "poison || attempt >= 2"
order:
  inventoryUrl: http://inventory:8082
  rpcTimeout: 1500ms
`)

	require.NoError(t, ParseConfig(raw, cfg))

	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "zk:2181", cfg.Infra.Zookeeper.Servers)
	assert.Equal(t, 8, cfg.Messaging.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Messaging.RetryDelay)
	assert.Equal(t, "poison || attempt >= 2", cfg.Messaging.DeadLetterExpression)
	assert.Equal(t, "http://inventory:8082", cfg.Order.InventoryURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Order.RPCTimeout)

	// 未出现的字段保持默认值
	assert.Equal(t, "inventory.rollback.*", cfg.Messaging.RollbackPattern)
	assert.Equal(t, "product.update.sync", cfg.Messaging.StockTopic)
	assert.Equal(t, 3306, cfg.Infra.MySQL.Port)
}

func TestParseConfig_RejectsInvalidYAML(t *testing.T) {
	assert.Error(t, ParseConfig([]byte("app: [unterminated"), DefaultConfig()))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("STORAGE", "memory")
	t.Setenv("INVENTORY_URL", "http://127.0.0.1:8082")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Equal(t, "http://127.0.0.1:8082", cfg.Order.InventoryURL)
}

func TestReload_KeepsPreviousConfigOnError(t *testing.T) {
	before := GetCurrentConfig()
	t.Cleanup(func() { current.Store(before) })

	reload("messaging: [broken")
	assert.Same(t, before, GetCurrentConfig())

	reload("messaging:\n  maxAttempts: 2\n")
	assert.Equal(t, 2, GetCurrentConfig().Messaging.MaxAttempts)
	assert.Equal(t, before.Messaging.RetryTopic, GetCurrentConfig().Messaging.RetryTopic)
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_PORT", "9000")
	assert.Equal(t, 9000, EnvInt("TEST_PORT", 1))
	t.Setenv("TEST_PORT", "nope")
	assert.Equal(t, 1, EnvInt("TEST_PORT", 1))
}
