// Пакет config — загрузка и валидация конфигурации provenance-agent
// из переменных окружения (и необязательного файла .env).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды закрепления файлов.
const (
	StoragePinata   = "pinata"
	StorageKubo     = "kubo"
	StorageFilebase = "filebase"
)

// Источники геолокации.
const (
	GeoClient = "client"
	GeoStatic = "static"
	GeoIPAPI  = "ipapi"
)

// Config содержит все параметры конфигурации агента.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор экземпляра (имя в dephealth и владелец журнала)
	ServiceID string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// JSON-RPC endpoint реестра
	LedgerRPCURL string
	// Адрес контракта MediaVerification
	ContractAddress common.Address
	// Идентификатор сети; 0 — запросить у узла
	ChainID int64
	// Директория keystore кошелька
	KeystoreDir string
	// Аккаунт по умолчанию; пустой — первый в keystore
	WalletAddress string

	// Бэкенд закрепления: pinata, kubo, filebase
	StorageBackend     string
	PinataAPIURL       string
	PinataAPIKey       string
	PinataSecretAPIKey string
	KuboAPIURL         string
	FilebaseEndpoint   string
	FilebaseRegion     string
	FilebaseBucket     string
	FilebaseAccessKey  string
	FilebaseSecretKey  string

	// Источник геолокации: client, static, ipapi
	GeoSource    string
	GeoStaticLat float64
	GeoStaticLon float64
	GeoIPAPIURL  string
	// Ограничение ожидания геолокации
	GeoTimeout time.Duration

	// Таймаут стадии загрузки
	UploadTimeout time.Duration
	// Ограничение ожидания подтверждения транзакции
	ConfirmTimeout time.Duration
	// Ограничение стадии конвейера целиком
	StageTimeout time.Duration
	// Максимальный размер файла в байтах
	MaxFileSize int64

	// Директория спула выбранных файлов
	SpoolDir string
	// Директория журнала операций
	JournalDir string
	// Срок хранения завершённых записей журнала
	JournalRetention time.Duration
	// Интервал отчёта о незакреплённых в реестре пинах
	OrphanScanInterval time.Duration

	// Время жизни сессии без обращений
	SessionTTL time.Duration
	// Максимальное число одновременных сессий
	MaxSessions int

	// URL JWKS; пустой — аутентификация отключена
	JWKSUrl string
	// Путь к CA-сертификату для TLS JWKS endpoint (опционально)
	CACertPath string
	// Пропуск проверки TLS сертификатов исходящих соединений
	TLSSkipVerify bool
	// Таймаут HTTP-клиента внешних сервисов
	HTTPClientTimeout time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допуск по времени при проверке exp/nbf
	JWTLeeway time.Duration
	// Обязательный aud токенов клиентов (пустой — не проверяется)
	JWTAudience string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// LoadDotEnv загружает переменные из файлов .env. Отсутствующий файл не
// считается ошибкой; уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return failure.Wrap(failure.KindConfiguration, err, "чтение %s", p)
		}
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения и валидирует её.
// Любая ошибка имеет вид failure.KindConfiguration.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, err, "некорректная конфигурация")
	}
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{}

	// PV_PORT — порт HTTP-сервера (по умолчанию 8020)
	port, err := getEnvInt("PV_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("PV_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PV_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.ServiceID = getEnvDefault("PV_SERVICE_ID", "provenance-agent")

	// PV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PV_LOG_LEVEL: %w", err)
	}

	// PV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PV_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if err := loadLedger(cfg); err != nil {
		return nil, err
	}
	if err := loadStorage(cfg); err != nil {
		return nil, err
	}
	if err := loadGeo(cfg); err != nil {
		return nil, err
	}

	// PV_UPLOAD_TIMEOUT — таймаут стадии загрузки (по умолчанию 2m)
	cfg.UploadTimeout, err = getEnvPositiveDuration("PV_UPLOAD_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	// PV_CONFIRM_TIMEOUT — ожидание подтверждения не может быть бесконечным
	cfg.ConfirmTimeout, err = getEnvPositiveDuration("PV_CONFIRM_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, err
	}

	// PV_STAGE_TIMEOUT — ограничение стадии целиком; не короче загрузки и подтверждения
	cfg.StageTimeout, err = getEnvPositiveDuration("PV_STAGE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if cfg.StageTimeout < cfg.UploadTimeout || cfg.StageTimeout < cfg.ConfirmTimeout {
		return nil, fmt.Errorf("PV_STAGE_TIMEOUT: значение %v меньше PV_UPLOAD_TIMEOUT или PV_CONFIRM_TIMEOUT", cfg.StageTimeout)
	}

	// PV_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MB)
	cfg.MaxFileSize, err = getEnvInt64("PV_MAX_FILE_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("PV_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("PV_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// PV_SPOOL_DIR, PV_JOURNAL_DIR — обязательные
	if cfg.SpoolDir, err = getEnvRequired("PV_SPOOL_DIR"); err != nil {
		return nil, err
	}
	if cfg.JournalDir, err = getEnvRequired("PV_JOURNAL_DIR"); err != nil {
		return nil, err
	}
	if cfg.JournalRetention, err = getEnvPositiveDuration("PV_JOURNAL_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OrphanScanInterval, err = getEnvPositiveDuration("PV_ORPHAN_SCAN_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	// Реестр сессий
	if cfg.SessionTTL, err = getEnvPositiveDuration("PV_SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	cfg.MaxSessions, err = getEnvInt("PV_MAX_SESSIONS", 64)
	if err != nil {
		return nil, fmt.Errorf("PV_MAX_SESSIONS: %w", err)
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("PV_MAX_SESSIONS: значение должно быть положительным")
	}

	if err := loadAuth(cfg); err != nil {
		return nil, err
	}

	// Таймауты HTTP-сервера
	if cfg.HTTPReadTimeout, err = getEnvPositiveDuration("PV_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	// Запись ответа включает ожидание подтверждения транзакции
	if cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("PV_HTTP_WRITE_TIMEOUT", cfg.StageTimeout+time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("PV_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}

	// PV_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("PV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getEnvDefault("PV_DEPHEALTH_GROUP", "provenance")

	// PV_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	if cfg.ShutdownTimeout, err = getEnvPositiveDuration("PV_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadLedger — параметры реестра и кошелька.
func loadLedger(cfg *Config) error {
	var err error
	if cfg.LedgerRPCURL, err = getEnvRequired("PV_LEDGER_RPC_URL"); err != nil {
		return err
	}

	// Без адреса контракта подключение кошелька бессмысленно
	addr, err := getEnvRequired("PV_CONTRACT_ADDRESS")
	if err != nil {
		return err
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("PV_CONTRACT_ADDRESS: некорректный адрес контракта %q", addr)
	}
	cfg.ContractAddress = common.HexToAddress(addr)

	cfg.ChainID, err = getEnvInt64("PV_CHAIN_ID", 0)
	if err != nil {
		return fmt.Errorf("PV_CHAIN_ID: %w", err)
	}
	if cfg.ChainID < 0 {
		return fmt.Errorf("PV_CHAIN_ID: значение не может быть отрицательным")
	}

	if cfg.KeystoreDir, err = getEnvRequired("PV_KEYSTORE_DIR"); err != nil {
		return err
	}
	cfg.WalletAddress = getEnvDefault("PV_WALLET_ADDRESS", "")
	if cfg.WalletAddress != "" && !common.IsHexAddress(cfg.WalletAddress) {
		return fmt.Errorf("PV_WALLET_ADDRESS: некорректный адрес %q", cfg.WalletAddress)
	}
	return nil
}

// loadStorage — параметры бэкенда закрепления.
func loadStorage(cfg *Config) error {
	var err error
	cfg.StorageBackend = getEnvDefault("PV_STORAGE_BACKEND", StoragePinata)

	switch cfg.StorageBackend {
	case StoragePinata:
		cfg.PinataAPIURL = getEnvDefault("PV_PINATA_API_URL", "https://api.pinata.cloud")
		if cfg.PinataAPIKey, err = getEnvRequired("PV_PINATA_API_KEY"); err != nil {
			return err
		}
		if cfg.PinataSecretAPIKey, err = getEnvRequired("PV_PINATA_SECRET_API_KEY"); err != nil {
			return err
		}
	case StorageKubo:
		cfg.KuboAPIURL = getEnvDefault("PV_KUBO_API_URL", "http://127.0.0.1:5001")
	case StorageFilebase:
		cfg.FilebaseEndpoint = getEnvDefault("PV_FILEBASE_ENDPOINT", "https://s3.filebase.com")
		cfg.FilebaseRegion = getEnvDefault("PV_FILEBASE_REGION", "us-east-1")
		if cfg.FilebaseBucket, err = getEnvRequired("PV_FILEBASE_BUCKET"); err != nil {
			return err
		}
		if cfg.FilebaseAccessKey, err = getEnvRequired("PV_FILEBASE_ACCESS_KEY"); err != nil {
			return err
		}
		if cfg.FilebaseSecretKey, err = getEnvRequired("PV_FILEBASE_SECRET_KEY"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("PV_STORAGE_BACKEND: недопустимое значение %q, допустимые: pinata, kubo, filebase",
			cfg.StorageBackend)
	}
	return nil
}

// loadGeo — источник и таймаут геолокации.
func loadGeo(cfg *Config) error {
	var err error
	cfg.GeoSource = getEnvDefault("PV_GEO_SOURCE", GeoClient)

	switch cfg.GeoSource {
	case GeoClient:
	case GeoStatic:
		if cfg.GeoStaticLat, err = getEnvFloatRequired("PV_GEO_STATIC_LAT", -90, 90); err != nil {
			return err
		}
		if cfg.GeoStaticLon, err = getEnvFloatRequired("PV_GEO_STATIC_LON", -180, 180); err != nil {
			return err
		}
	case GeoIPAPI:
		cfg.GeoIPAPIURL = getEnvDefault("PV_GEO_IPAPI_URL", "http://ip-api.com/json")
	default:
		return fmt.Errorf("PV_GEO_SOURCE: недопустимое значение %q, допустимые: client, static, ipapi", cfg.GeoSource)
	}

	cfg.GeoTimeout, err = getEnvPositiveDuration("PV_GEO_TIMEOUT", 10*time.Second)
	return err
}

// loadAuth — параметры JWT/JWKS и исходящего TLS.
func loadAuth(cfg *Config) error {
	var err error
	cfg.JWKSUrl = getEnvDefault("PV_JWKS_URL", "")
	cfg.CACertPath = getEnvDefault("PV_CA_CERT_PATH", "")

	cfg.TLSSkipVerify, err = getEnvBool("PV_TLS_SKIP_VERIFY", false)
	if err != nil {
		return fmt.Errorf("PV_TLS_SKIP_VERIFY: %w", err)
	}

	if cfg.HTTPClientTimeout, err = getEnvPositiveDuration("PV_HTTP_CLIENT_TIMEOUT", 30*time.Second); err != nil {
		return err
	}
	// PV_JWKS_CLIENT_TIMEOUT — по умолчанию равен глобальному таймауту клиента
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("PV_JWKS_CLIENT_TIMEOUT", cfg.HTTPClientTimeout); err != nil {
		return err
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("PV_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return err
	}
	cfg.JWTLeeway, err = getEnvDuration("PV_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("PV_JWT_LEEWAY: %w", err)
	}
	cfg.JWTAudience = getEnvDefault("PV_JWT_AUDIENCE", "")
	return nil
}

// AuthEnabled сообщает, включена ли проверка JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloatRequired возвращает обязательное вещественное значение в диапазоне [min, max].
func getEnvFloatRequired(key string, minVal, maxVal float64) (float64, error) {
	val, err := getEnvRequired(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное число: %q", key, val)
	}
	if f < minVal || f > maxVal {
		return 0, fmt.Errorf("%s: значение %v вне диапазона [%v, %v]", key, f, minVal, maxVal)
	}
	return f, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой > 0; ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: длительность должна быть положительной, получено %v", key, d)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
