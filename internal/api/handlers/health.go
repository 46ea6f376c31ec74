// health.go — обработчики health endpoints для проверок Kubernetes (liveness/readiness).
package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/bigkaa/provenance/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// WritableChecker — хранилище, проверяющее возможность записи.
type WritableChecker interface {
	CheckWritable() error
}

// DependencyChecker — состояние внешних зависимостей (topologymetrics).
type DependencyChecker interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// spool — директория выбранных файлов
	spool WritableChecker
	// journal — журнал операций
	journal WritableChecker
	// deps — проверки зависимостей; nil — не проверяются
	deps DependencyChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(spool, journal WritableChecker, deps DependencyChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		spool:   spool,
		journal: journal,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "provenance-agent",
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthReady обрабатывает GET /health/ready.
// Спул и журнал обязательны: без них стадии не выполняются (503).
// Недоступная зависимость даёт degraded: повтор стадии возможен позже.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	spoolCheck := checkWritable(h.spool)
	journalCheck := checkWritable(h.journal)
	if spoolCheck["status"] != "ok" || journalCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{
		"spool":   spoolCheck,
		"journal": journalCheck,
	}

	if h.deps != nil {
		depCheck := h.checkDependencies()
		checks["dependencies"] = depCheck
		if depCheck["status"] != "ok" && overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "provenance-agent",
		"checks":    checks,
	}

	writeJSON(w, httpStatus, resp)
}

// checkWritable проверяет доступность хранилища на запись.
func checkWritable(c WritableChecker) map[string]any {
	if c == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}
	if err := c.CheckWritable(); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": err.Error(),
		}
	}
	return map[string]any{
		"status": "ok",
	}
}

// checkDependencies сводит состояние зависимостей. Пока первая проверка
// не выполнена, карта пуста и статус ok.
func (h *HealthHandler) checkDependencies() map[string]any {
	health := h.deps.Health()

	var unhealthy []string
	for name, ok := range health {
		if !ok {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) == 0 {
		return map[string]any{
			"status":       "ok",
			"dependencies": health,
		}
	}
	sort.Strings(unhealthy)
	return map[string]any{
		"status":       statusFail,
		"dependencies": health,
		"unhealthy":    unhealthy,
	}
}
