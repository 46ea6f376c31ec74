package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики конвейера и сессий
var (
	// stageTotal — завершённые стадии по результату (ok или вид ошибки).
	stageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pv_stage_total",
		Help: "Количество завершённых стадий конвейера",
	}, []string{"stage", "result"})

	// stageDurationSeconds — длительность выполнения стадии.
	stageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pv_stage_duration_seconds",
		Help:    "Длительность стадии конвейера в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"stage"})

	// staleResultsTotal — результаты, пришедшие после сброса записи.
	staleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pv_stale_results_total",
		Help: "Количество отброшенных устаревших результатов",
	}, []string{"stage"})

	// sessionsActive — число сессий в реестре.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pv_sessions_active",
		Help: "Количество активных сессий",
	})

	// orphanPins — закреплённые файлы без подтверждённой записи в реестре.
	orphanPins = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pv_orphan_pins",
		Help: "Количество пинов без подтверждённой записи в реестре",
	})
)
