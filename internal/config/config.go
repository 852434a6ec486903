package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "change-me-in-production"

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	MetaAPI   MetaAPIConfig
	Polling   PollingConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // должен покрывать весь опрос провайдера в connect
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// MetaAPIConfig - доступ к провайдеру MT5.
// Пустой Token не мешает старту: connect вернёт ошибку конфигурации.
type MetaAPIConfig struct {
	Token              string
	ProvisioningURL    string
	ClientURL          string
	RequestTimeout     time.Duration
	InsecureSkipVerify bool
}

// PollingConfig - политика ожидания удалённого аккаунта
type PollingConfig struct {
	Interval          time.Duration // пауза между проверками deploy/connect/provision
	DeployAttempts    int           // найденный, но не развёрнутый аккаунт
	ConnectAttempts   int           // развёрнутый, но не подключённый
	ProvisionAttempts int           // только что созданный

	BalanceGrace    time.Duration // пауза перед первым чтением баланса
	BalanceAttempts int
	BalanceBase     time.Duration
	BalanceStep     time.Duration // прибавка к паузе на каждой попытке

	// Budget - общий предел на все стадии опроса в одном запросе
	Budget time.Duration
}

// RateLimitConfig - лимит запросов на IP для auth и connect
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 70*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "algoedge"),
			User:            getEnv("DB_USER", "algoedge"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		MetaAPI: MetaAPIConfig{
			Token:              strings.TrimSpace(getEnv("METAAPI_TOKEN", "")),
			ProvisioningURL:    getEnv("METAAPI_PROVISIONING_URL", "https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai"),
			ClientURL:          getEnv("METAAPI_CLIENT_URL", "https://mt-client-api-v1.new-york.agiliumtrade.ai"),
			RequestTimeout:     getEnvAsDuration("METAAPI_REQUEST_TIMEOUT", 30*time.Second),
			InsecureSkipVerify: getEnvAsBool("METAAPI_INSECURE_TLS", true),
		},
		Polling: PollingConfig{
			Interval:          getEnvAsDuration("MT5_POLL_INTERVAL", 2*time.Second),
			DeployAttempts:    getEnvAsInt("MT5_DEPLOY_ATTEMPTS", 20),
			ConnectAttempts:   getEnvAsInt("MT5_CONNECT_ATTEMPTS", 10),
			ProvisionAttempts: getEnvAsInt("MT5_PROVISION_ATTEMPTS", 30),
			BalanceGrace:      getEnvAsDuration("MT5_BALANCE_GRACE", 3*time.Second),
			BalanceAttempts:   getEnvAsInt("MT5_BALANCE_ATTEMPTS", 8),
			BalanceBase:       getEnvAsDuration("MT5_BALANCE_BASE_DELAY", 2*time.Second),
			BalanceStep:       getEnvAsDuration("MT5_BALANCE_STEP", 1*time.Second),
			Budget:            getEnvAsDuration("MT5_POLL_BUDGET", 50*time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvAsFloat("RATE_LIMIT_RPS", 1),
			Burst: getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authentication")
	}

	if c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed from default value in production")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	if c.Security.TokenTTL < time.Minute {
		return fmt.Errorf("JWT_TTL must be at least 1m, got %v", c.Security.TokenTTL)
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.MetaAPI.RequestTimeout <= 0 {
		return fmt.Errorf("METAAPI_REQUEST_TIMEOUT must be positive, got %v", c.MetaAPI.RequestTimeout)
	}

	p := c.Polling
	for name, n := range map[string]int{
		"MT5_DEPLOY_ATTEMPTS":    p.DeployAttempts,
		"MT5_CONNECT_ATTEMPTS":   p.ConnectAttempts,
		"MT5_PROVISION_ATTEMPTS": p.ProvisionAttempts,
		"MT5_BALANCE_ATTEMPTS":   p.BalanceAttempts,
	} {
		if n < 1 || n > 100 {
			return fmt.Errorf("%s must be between 1 and 100, got %d", name, n)
		}
	}

	if p.Interval <= 0 || p.BalanceBase <= 0 {
		return fmt.Errorf("MT5_POLL_INTERVAL and MT5_BALANCE_BASE_DELAY must be positive")
	}

	if p.BalanceGrace < 0 || p.BalanceStep < 0 {
		return fmt.Errorf("MT5_BALANCE_GRACE and MT5_BALANCE_STEP cannot be negative")
	}

	if p.Budget <= 0 {
		return fmt.Errorf("MT5_POLL_BUDGET must be positive, got %v", p.Budget)
	}

	// иначе сервер оборвёт ответ раньше, чем закончится опрос
	if c.Server.WriteTimeout <= p.Budget {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT (%v) must exceed MT5_POLL_BUDGET (%v)", c.Server.WriteTimeout, p.Budget)
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr - адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
