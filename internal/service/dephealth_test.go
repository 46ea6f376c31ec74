package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAgentTargets(t *testing.T) {
	targets := AgentTargets("http://127.0.0.1:8545", "https://api.pinata.cloud")
	if len(targets) != 2 {
		t.Fatalf("зависимостей %d, ожидалось 2", len(targets))
	}

	byName := map[string]DependencyTarget{}
	for _, tg := range targets {
		byName[tg.Name] = tg
	}
	if rpc := byName[DepLedgerRPC]; !rpc.Critical || rpc.URL != "http://127.0.0.1:8545" {
		t.Errorf("узел реестра: %+v, ожидалась critical-зависимость", rpc)
	}
	if pin := byName[DepPinning]; pin.Critical || pin.URL != "https://api.pinata.cloud" {
		t.Errorf("сервис закрепления: %+v, ожидалась не critical-зависимость", pin)
	}
}

// dependencyGauge — значение app_dependency_health одной зависимости.
type dependencyGauge struct {
	critical string
	value    float64
}

// gatherHealth читает app_dependency_health из реестра по имени зависимости.
func gatherHealth(t *testing.T, reg *prometheus.Registry, instance string) map[string]dependencyGauge {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := map[string]dependencyGauge{}
	for _, mf := range families {
		if mf.GetName() != "app_dependency_health" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["name"] != instance || labels["group"] != "provenance" {
				t.Errorf("метка экземпляра: %v", labels)
			}
			out[labels["dependency"]] = dependencyGauge{critical: labels["critical"], value: m.GetGauge().GetValue()}
		}
	}
	return out
}

// TestDephealthService_AgentDependencies проверяет метрики агента:
// доступный узел реестра и отказавший сервис закрепления.
func TestDephealthService_AgentDependencies(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer rpc.Close()
	pinning := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer pinning.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := prometheus.NewRegistry()

	ds, err := NewDephealthServiceWithRegisterer(
		"pv-field-01",
		"provenance",
		AgentTargets(rpc.URL, pinning.URL),
		time.Second,
		false,
		logger,
		reg,
	)
	if err != nil {
		t.Fatalf("NewDephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ds.Stop()

	// Первая проверка: интервал 1s + запас
	time.Sleep(3 * time.Second)

	got := gatherHealth(t, reg, "pv-field-01")
	want := map[string]dependencyGauge{
		DepLedgerRPC: {critical: "yes", value: 1},
		DepPinning:   {critical: "no", value: 0},
	}
	for name, w := range want {
		g, ok := got[name]
		if !ok {
			t.Errorf("нет метрики для %s, есть: %v", name, got)
			continue
		}
		if g != w {
			t.Errorf("%s: %+v, ожидалось %+v", name, g, w)
		}
	}

	// Health() отдаёт ключи вида "dependency:host:port"
	seen := map[string]bool{}
	for key, ok := range ds.Health() {
		for name := range want {
			if len(key) > len(name) && key[:len(name)+1] == name+":" {
				seen[name] = true
				if ok != (name == DepLedgerRPC) {
					t.Errorf("Health()[%q] = %v", key, ok)
				}
			}
		}
	}
	if len(seen) != len(want) {
		t.Errorf("Health() покрывает %v, ожидались обе зависимости агента", seen)
	}
}

func TestNewDephealthService_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	_, err := NewDephealthServiceWithRegisterer(
		"pv-field-02",
		"provenance",
		AgentTargets("::not a url", "http://127.0.0.1:5001"),
		time.Second,
		false,
		logger,
		prometheus.NewRegistry(),
	)
	if err == nil {
		t.Fatal("ожидалась ошибка для некорректного URL узла реестра")
	}
}
