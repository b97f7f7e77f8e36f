package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 订单事件（落库成功后投递，brokers 逗号分隔）
	KafkaBrokers []string
	KafkaTopic   string

	// 落库队列容量与缓存策略时长
	OrderQueueSize int
	ShopCacheTTL   time.Duration
	VoucherTTL     time.Duration
	NullTTL        time.Duration
	CacheLockTTL   time.Duration
	OrderLockLease time.Duration
	RebuildWorkers int

	// 购买接口限流
	BuyRateLimit  int
	BuyRateWindow time.Duration

	// 预热/建券接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DBPath:         getEnv("DB_PATH", "dianping.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:        0,
		KafkaBrokers:   splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "voucher-orders"),
		OrderQueueSize: 1024,
		ShopCacheTTL:   30 * time.Minute,
		VoucherTTL:     30 * time.Minute,
		NullTTL:        2 * time.Minute,
		CacheLockTTL:   10 * time.Second,
		OrderLockLease: 10 * time.Second,
		RebuildWorkers: 10,
		BuyRateLimit:   1000,
		BuyRateWindow:  time.Second,
		AdminToken:     getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	queueSize, err := getEnvInt("ORDER_QUEUE_SIZE", cfg.OrderQueueSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_QUEUE_SIZE: %w", err)
	}
	if queueSize <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_QUEUE_SIZE must be > 0")
	}
	cfg.OrderQueueSize = queueSize

	rebuildWorkers, err := getEnvInt("CACHE_REBUILD_WORKERS", cfg.RebuildWorkers)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_REBUILD_WORKERS: %w", err)
	}
	if rebuildWorkers <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_REBUILD_WORKERS must be > 0")
	}
	cfg.RebuildWorkers = rebuildWorkers

	shopTTLMin, err := getEnvInt("SHOP_CACHE_TTL_MIN", int(cfg.ShopCacheTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SHOP_CACHE_TTL_MIN: %w", err)
	}
	if shopTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("SHOP_CACHE_TTL_MIN must be > 0")
	}
	cfg.ShopCacheTTL = time.Duration(shopTTLMin) * time.Minute

	voucherTTLMin, err := getEnvInt("VOUCHER_CACHE_TTL_MIN", int(cfg.VoucherTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid VOUCHER_CACHE_TTL_MIN: %w", err)
	}
	if voucherTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("VOUCHER_CACHE_TTL_MIN must be > 0")
	}
	cfg.VoucherTTL = time.Duration(voucherTTLMin) * time.Minute

	nullTTLMin, err := getEnvInt("CACHE_NULL_TTL_MIN", int(cfg.NullTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_NULL_TTL_MIN: %w", err)
	}
	if nullTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_NULL_TTL_MIN must be > 0")
	}
	cfg.NullTTL = time.Duration(nullTTLMin) * time.Minute

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", int(cfg.BuyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
