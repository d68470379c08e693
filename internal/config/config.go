package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	StorageDriver   string
	MySQLDSN        string
	MySQLMaxOpen    int
	RedisAddr       string
	CartCacheTTL    time.Duration
	LockTTL         time.Duration
	RequestTimeout  time.Duration
	RunMigrations   bool
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment, falling back to
// defaults suitable for a local docker-compose setup.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":50051"),
		StorageDriver:   getEnv("STORAGE_DRIVER", DriverMySQL),
		MySQLDSN:        getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/checkout?parseTime=true"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		ShutdownTimeout: 5 * time.Second,
	}

	var err error
	if cfg.MySQLMaxOpen, err = getInt("MYSQL_MAX_OPEN_CONNS", 50); err != nil {
		return Config{}, err
	}
	if cfg.CartCacheTTL, err = getDuration("CART_CACHE_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RunMigrations, err = getBool("RUN_MIGRATIONS", true); err != nil {
		return Config{}, err
	}

	if cfg.StorageDriver != DriverMySQL && cfg.StorageDriver != DriverMemory {
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverMemory, cfg.StorageDriver)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
