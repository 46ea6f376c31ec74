// orphans.go — фоновый отчёт о закреплённых файлах без записи в реестре.
//
// Пин без подтверждённой транзакции остаётся в хранилище: отправка в реестр
// упала, пользователь сбросил запись или сессия истекла. Сервис находит
// такие пины по журналу операций, публикует их число (pv_orphan_pins)
// и пишет в лог. Пины не удаляются.
//
// Заодно удаляет завершённые записи журнала старше срока хранения и
// забытые файлы спула. Файлы незавершённых записей живых сессий не трогает.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/provenance/internal/storage/journal"
	"github.com/bigkaa/provenance/internal/storage/spool"
)

// OrphanPin — закреплённый файл без подтверждённой записи в реестре.
type OrphanPin struct {
	ContentID string    `json:"content_id"`
	FileHash  string    `json:"file_hash"`
	Session   string    `json:"session"`
	PinnedAt  time.Time `json:"pinned_at"`
	// Stale — запись была сброшена во время загрузки
	Stale bool `json:"stale,omitempty"`
}

// OrphanReport — результат одного прохода.
type OrphanReport struct {
	Orphans []OrphanPin
	// Unconfirmed — транзакции, ушедшие в сеть без известного исхода
	Unconfirmed    int
	CleanedEntries int
	SweptBlobs     int
	Duration       time.Duration
}

// OrphanService — периодический отчёт о пинах без записи в реестре.
type OrphanService struct {
	journal   *journal.Journal
	spool     *spool.Spool
	interval  time.Duration
	retention time.Duration
	// live — файлы спула, занятые сессиями; nil — таких нет
	live   func() map[string]bool
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex // защита от параллельного запуска RunOnce
	running bool
	cancel  context.CancelFunc
}

// NewOrphanService создаёт сервис. Пин считается осиротевшим, если за interval
// после закрепления по его CID не подтверждена ни одна транзакция.
func NewOrphanService(
	j *journal.Journal,
	sp *spool.Spool,
	interval time.Duration,
	retention time.Duration,
	live func() map[string]bool,
	logger *slog.Logger,
) *OrphanService {
	return &OrphanService{
		journal:   j,
		spool:     sp,
		interval:  interval,
		retention: retention,
		live:      live,
		logger:    logger.With(slog.String("component", "orphans")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *OrphanService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(ctx)

	s.logger.Info("Отчёт о пинах запущен",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую горутину.
func (s *OrphanService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Отчёт о пинах остановлен")
}

func (s *OrphanService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce выполняет один проход. Если проход уже идёт, возвращает nil, true.
func (s *OrphanService) RunOnce() (*OrphanReport, bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Отчёт о пинах уже выполняется, пропуск")
		return nil, true
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := time.Now()
	report := &OrphanReport{}

	entries, err := s.journal.List()
	if err != nil {
		s.logger.Error("Ошибка чтения журнала", slog.String("error", err.Error()))
	} else {
		report.Orphans, report.Unconfirmed = s.scan(entries)
	}
	orphanPins.Set(float64(len(report.Orphans)))

	for _, o := range report.Orphans {
		s.logger.Warn("Пин без записи в реестре",
			slog.String("cid", o.ContentID),
			slog.String("file_hash", o.FileHash),
			slog.String("session", o.Session),
			slog.Time("pinned_at", o.PinnedAt),
			slog.Bool("stale", o.Stale),
		)
	}

	if report.CleanedEntries, err = s.journal.CleanCompleted(s.retention); err != nil {
		s.logger.Error("Ошибка очистки журнала", slog.String("error", err.Error()))
	}
	var keep func(string) bool
	if s.live != nil {
		live := s.live()
		keep = func(name string) bool { return live[name] }
	}
	if report.SweptBlobs, err = s.spool.Sweep(s.retention, keep); err != nil {
		s.logger.Error("Ошибка очистки спула", slog.String("error", err.Error()))
	}

	report.Duration = time.Since(started)
	s.logger.Info("Отчёт о пинах завершён",
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("unconfirmed", report.Unconfirmed),
		slog.Int("cleaned_entries", report.CleanedEntries),
		slog.Int("swept_blobs", report.SweptBlobs),
		slog.Duration("duration", report.Duration),
	)
	return report, false
}

// scan сопоставляет пины с транзакциями по CID.
func (s *OrphanService) scan(entries []*journal.Entry) ([]OrphanPin, int) {
	anchored := make(map[string]bool)
	// Пин с транзакцией в полёте не считается осиротевшим
	inflight := make(map[string]bool)
	unconfirmed := 0
	for _, e := range entries {
		if e.Operation != journal.OpAnchor {
			continue
		}
		switch e.Status {
		case journal.StatusCommitted:
			anchored[e.ContentID] = true
		case journal.StatusPending:
			inflight[e.FileHash] = true
			if e.Broadcast() {
				unconfirmed++
			}
		}
	}

	cutoff := s.now().Add(-s.interval)
	seen := make(map[string]bool)
	var orphans []OrphanPin
	for _, e := range entries {
		if e.Operation != journal.OpPin || e.Status != journal.StatusCommitted || e.ContentID == "" {
			continue
		}
		if anchored[e.ContentID] || inflight[e.FileHash] || seen[e.ContentID] {
			continue
		}
		if e.CompletedAt == nil || e.CompletedAt.After(cutoff) {
			continue
		}
		seen[e.ContentID] = true
		orphans = append(orphans, OrphanPin{
			ContentID: e.ContentID,
			FileHash:  e.FileHash,
			Session:   e.Session,
			PinnedAt:  *e.CompletedAt,
			Stale:     e.Stale,
		})
	}
	sort.Slice(orphans, func(i, k int) bool {
		return orphans[i].PinnedAt.Before(orphans[k].PinnedAt)
	})
	return orphans, unconfirmed
}
