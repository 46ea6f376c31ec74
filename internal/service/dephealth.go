// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Агент мониторит:
//   - ledger-rpc — JSON-RPC узел реестра (HTTP GET, critical)
//   - pinning — API сервиса закрепления (HTTP GET, не critical: загрузка
//     сама сообщит UploadFailed, а подтверждённые записи от него не зависят)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей агента в метриках.
const (
	DepLedgerRPC = "ledger-rpc"
	DepPinning   = "pinning"
)

// AgentTargets возвращает зависимости агента: узел реестра и сервис закрепления.
func AgentTargets(ledgerRPCURL, pinningEndpoint string) []DependencyTarget {
	return []DependencyTarget{
		{Name: DepLedgerRPC, URL: ledgerRPCURL, Critical: true},
		{Name: DepPinning, URL: pinningEndpoint},
	}
}

// DependencyTarget — проверяемая HTTP-зависимость.
type DependencyTarget struct {
	// Name — имя зависимости в метриках
	Name string
	// URL — базовый URL
	URL string
	// HealthPath — путь проверки (по умолчанию /)
	HealthPath string
	Critical   bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (PV_SERVICE_ID)
//   - group — имя группы в метриках (PV_DEPHEALTH_GROUP)
//   - targets — проверяемые зависимости
//   - checkInterval — интервал проверки (PV_DEPHEALTH_CHECK_INTERVAL)
//   - tlsSkipVerify — пропуск проверки TLS (PV_TLS_SKIP_VERIFY)
func NewDephealthService(
	serviceID string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, tlsSkipVerify, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, tlsSkipVerify,
		logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 1+len(targets)+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	for _, t := range targets {
		path := t.HealthPath
		if path == "" {
			path = "/"
		}
		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(t.URL),
			dephealth.WithHTTPHealthPath(path),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(t.Critical),
		}
		// TLS определяем из URL
		if parsed, err := url.Parse(t.URL); err == nil && parsed.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(tlsSkipVerify))
		}
		opts = append(opts, dephealth.HTTP(t.Name, depOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
