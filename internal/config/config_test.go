package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// allKeys — все переменные PV_*, влияющие на Load.
var allKeys = []string{
	"PV_PORT", "PV_SERVICE_ID", "PV_LOG_LEVEL", "PV_LOG_FORMAT",
	"PV_LEDGER_RPC_URL", "PV_CONTRACT_ADDRESS", "PV_CHAIN_ID", "PV_KEYSTORE_DIR", "PV_WALLET_ADDRESS",
	"PV_STORAGE_BACKEND", "PV_PINATA_API_URL", "PV_PINATA_API_KEY", "PV_PINATA_SECRET_API_KEY",
	"PV_KUBO_API_URL", "PV_FILEBASE_ENDPOINT", "PV_FILEBASE_REGION", "PV_FILEBASE_BUCKET",
	"PV_FILEBASE_ACCESS_KEY", "PV_FILEBASE_SECRET_KEY",
	"PV_GEO_SOURCE", "PV_GEO_STATIC_LAT", "PV_GEO_STATIC_LON", "PV_GEO_IPAPI_URL", "PV_GEO_TIMEOUT",
	"PV_UPLOAD_TIMEOUT", "PV_CONFIRM_TIMEOUT", "PV_STAGE_TIMEOUT", "PV_MAX_FILE_SIZE",
	"PV_SPOOL_DIR", "PV_JOURNAL_DIR", "PV_JOURNAL_RETENTION", "PV_ORPHAN_SCAN_INTERVAL",
	"PV_SESSION_TTL", "PV_MAX_SESSIONS",
	"PV_JWKS_URL", "PV_CA_CERT_PATH", "PV_TLS_SKIP_VERIFY", "PV_HTTP_CLIENT_TIMEOUT",
	"PV_JWKS_CLIENT_TIMEOUT", "PV_JWKS_REFRESH_INTERVAL", "PV_JWT_LEEWAY", "PV_JWT_AUDIENCE",
	"PV_HTTP_READ_TIMEOUT", "PV_HTTP_WRITE_TIMEOUT", "PV_HTTP_IDLE_TIMEOUT",
	"PV_DEPHEALTH_CHECK_INTERVAL", "PV_DEPHEALTH_GROUP", "PV_SHUTDOWN_TIMEOUT",
}

// clearEnv очищает все PV_* на время теста; t.Setenv восстановит значения.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

// setEnvVars устанавливает переменные окружения на время теста.
func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"PV_LEDGER_RPC_URL":        "http://127.0.0.1:8545",
		"PV_CONTRACT_ADDRESS":      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"PV_KEYSTORE_DIR":          "/tmp/keystore",
		"PV_PINATA_API_KEY":        "key",
		"PV_PINATA_SECRET_API_KEY": "secret",
		"PV_SPOOL_DIR":             "/tmp/spool",
		"PV_JOURNAL_DIR":           "/tmp/journal",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)
	setEnvVars(t, requiredEnvVars())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8020 {
		t.Errorf("Port: ожидалось 8020, получено %d", cfg.Port)
	}
	if cfg.StorageBackend != StoragePinata {
		t.Errorf("StorageBackend: ожидалось pinata, получено %q", cfg.StorageBackend)
	}
	if cfg.PinataAPIURL != "https://api.pinata.cloud" {
		t.Errorf("PinataAPIURL: получено %q", cfg.PinataAPIURL)
	}
	if cfg.GeoSource != GeoClient {
		t.Errorf("GeoSource: ожидалось client, получено %q", cfg.GeoSource)
	}
	if cfg.GeoTimeout != 10*time.Second {
		t.Errorf("GeoTimeout: ожидалось 10s, получено %v", cfg.GeoTimeout)
	}
	if cfg.ConfirmTimeout != 3*time.Minute {
		t.Errorf("ConfirmTimeout: ожидалось 3m, получено %v", cfg.ConfirmTimeout)
	}
	if cfg.StageTimeout != 5*time.Minute {
		t.Errorf("StageTimeout: ожидалось 5m, получено %v", cfg.StageTimeout)
	}
	if cfg.HTTPWriteTimeout != 6*time.Minute {
		t.Errorf("HTTPWriteTimeout: ожидалось StageTimeout+1m, получено %v", cfg.HTTPWriteTimeout)
	}
	if cfg.MaxFileSize != 104857600 {
		t.Errorf("MaxFileSize: ожидалось 104857600, получено %d", cfg.MaxFileSize)
	}
	if cfg.SessionTTL != 30*time.Minute || cfg.MaxSessions != 64 {
		t.Errorf("сессии: получено TTL=%v, max=%d", cfg.SessionTTL, cfg.MaxSessions)
	}
	if cfg.JWKSClientTimeout != 30*time.Second {
		t.Errorf("JWKSClientTimeout: ожидалось 30s (fallback на глобальный), получено %v", cfg.JWKSClientTimeout)
	}
	if cfg.AuthEnabled() {
		t.Error("без PV_JWKS_URL аутентификация должна быть отключена")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.ContractAddress.Hex() != "0x5FbDB2315678afecb367f032d93F642f64180aa3" {
		t.Errorf("ContractAddress: получено %s", cfg.ContractAddress.Hex())
	}
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	for key := range requiredEnvVars() {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			vars := requiredEnvVars()
			delete(vars, key)
			setEnvVars(t, vars)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !errors.Is(err, failure.New(failure.KindConfiguration, "")) {
				t.Errorf("ожидалась CONFIGURATION_ERROR, получено %v", err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PV_PORT", "0"},
		{"PV_PORT", "abc"},
		{"PV_CONTRACT_ADDRESS", "0x123"},
		{"PV_CHAIN_ID", "-1"},
		{"PV_WALLET_ADDRESS", "not-an-address"},
		{"PV_STORAGE_BACKEND", "dropbox"},
		{"PV_GEO_SOURCE", "gps"},
		{"PV_GEO_TIMEOUT", "0s"},
		{"PV_CONFIRM_TIMEOUT", "forever"},
		{"PV_STAGE_TIMEOUT", "0s"},
		{"PV_STAGE_TIMEOUT", "1m"},
		{"PV_MAX_FILE_SIZE", "-5"},
		{"PV_MAX_SESSIONS", "0"},
		{"PV_TLS_SKIP_VERIFY", "maybe"},
		{"PV_LOG_LEVEL", "verbose"},
		{"PV_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			setEnvVars(t, requiredEnvVars())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("ожидалась ошибка для %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_FilebaseBackend(t *testing.T) {
	clearEnv(t)
	vars := requiredEnvVars()
	delete(vars, "PV_PINATA_API_KEY")
	delete(vars, "PV_PINATA_SECRET_API_KEY")
	vars["PV_STORAGE_BACKEND"] = "filebase"
	vars["PV_FILEBASE_BUCKET"] = "media"
	vars["PV_FILEBASE_ACCESS_KEY"] = "ak"
	setEnvVars(t, vars)

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка без PV_FILEBASE_SECRET_KEY")
	}

	t.Setenv("PV_FILEBASE_SECRET_KEY", "sk")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.FilebaseEndpoint != "https://s3.filebase.com" || cfg.FilebaseRegion != "us-east-1" {
		t.Errorf("значения по умолчанию filebase: %q, %q", cfg.FilebaseEndpoint, cfg.FilebaseRegion)
	}
}

func TestLoad_StaticGeo(t *testing.T) {
	clearEnv(t)
	setEnvVars(t, requiredEnvVars())
	t.Setenv("PV_GEO_SOURCE", "static")
	t.Setenv("PV_GEO_STATIC_LAT", "55.751244")
	t.Setenv("PV_GEO_STATIC_LON", "200")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка для долготы вне диапазона")
	}

	t.Setenv("PV_GEO_STATIC_LON", "37.618423")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.GeoStaticLat != 55.751244 || cfg.GeoStaticLon != 37.618423 {
		t.Errorf("координаты: получено %v, %v", cfg.GeoStaticLat, cfg.GeoStaticLon)
	}
}

func TestLoad_ClientAuth(t *testing.T) {
	clearEnv(t)
	setEnvVars(t, requiredEnvVars())
	t.Setenv("PV_JWKS_URL", "https://idp.example/jwks.json")
	t.Setenv("PV_JWT_AUDIENCE", "provenance-agent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("с PV_JWKS_URL аутентификация должна быть включена")
	}
	if cfg.JWTAudience != "provenance-agent" {
		t.Errorf("JWTAudience = %q", cfg.JWTAudience)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PV_SERVICE_ID=from-dotenv\nPV_PORT=9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// PV_PORT задан в окружении и не должен перезаписываться
	t.Setenv("PV_PORT", "8021")
	t.Setenv("PV_SERVICE_ID", "x")
	os.Unsetenv("PV_SERVICE_ID")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got := os.Getenv("PV_SERVICE_ID"); got != "from-dotenv" {
		t.Errorf("PV_SERVICE_ID: ожидалось from-dotenv, получено %q", got)
	}
	if got := os.Getenv("PV_PORT"); got != "8021" {
		t.Errorf("PV_PORT: окружение перезаписано, получено %q", got)
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogLevel: slog.LevelDebug, LogFormat: format}
		logger := SetupLogger(cfg)
		if logger == nil {
			t.Fatalf("SetupLogger(%s) вернул nil", format)
		}
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			t.Errorf("уровень debug должен быть включён для %s", format)
		}
	}
}
