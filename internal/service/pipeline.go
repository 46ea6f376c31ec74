// pipeline.go — конвейер происхождения файла одной сессии.
//
// Стадии запускаются только явным действием пользователя:
//
//	SelectFile → Hash → Upload → Submit
//
// Стадия выполняется без удержания блокировки. Перед применением результата
// сверяется поколение записи: выбор нового файла, сброс и отключение кошелька
// увеличивают поколение, и запоздавший результат отбрасывается (ErrStaleResult).
//
// Каждое закрепление и каждая отправка в реестр фиксируются в журнале операций.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/model"
	"github.com/bigkaa/provenance/internal/domain/pipeline"
	"github.com/bigkaa/provenance/internal/geo"
	"github.com/bigkaa/provenance/internal/ledger"
	"github.com/bigkaa/provenance/internal/storage/journal"
	"github.com/bigkaa/provenance/internal/storage/pinning"
	"github.com/bigkaa/provenance/internal/storage/spool"
	"github.com/bigkaa/provenance/internal/wallet"
)

var (
	// ErrStaleResult — результат стадии пришёл после сброса записи и не применён.
	ErrStaleResult = errors.New("результат устарел: запись сброшена")
	// ErrWalletNotConnected — загрузка и отправка требуют подключённого кошелька.
	ErrWalletNotConnected = errors.New("кошелёк не подключён")
	// ErrNoLocationDecision — нет хэширования, ожидающего решения о геолокации.
	ErrNoLocationDecision = errors.New("нет ожидающего решения о геолокации")
)

// LedgerSubmitter — отправка записи в реестр.
type LedgerSubmitter interface {
	Submit(ctx context.Context, signer wallet.Signer, p model.LedgerPayload) (PendingTx, error)
}

// PendingTx — отправленная транзакция, ожидающая подтверждения.
type PendingTx interface {
	Hash() string
	Wait(ctx context.Context) error
}

// NewLedgerSubmitter приводит ledger.Submitter к LedgerSubmitter.
func NewLedgerSubmitter(s *ledger.Submitter) LedgerSubmitter {
	return ledgerAdapter{s: s}
}

type ledgerAdapter struct {
	s *ledger.Submitter
}

func (a ledgerAdapter) Submit(ctx context.Context, signer wallet.Signer, p model.LedgerPayload) (PendingTx, error) {
	pending, err := a.s.Submit(ctx, signer, p)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Outcome — результат асинхронной задачи: значение либо ошибка.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Kind возвращает вид ошибки; пустой при успехе.
func (o Outcome[T]) Kind() failure.Kind {
	if o.Err == nil {
		return ""
	}
	return failure.KindOf(o.Err, failure.KindIO)
}

// async запускает fn в горутине. Канал получает ровно один результат.
func async[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- Outcome[T]{Value: v, Err: err}
	}()
	return ch
}

// PipelineDeps — зависимости конвейера, общие для всех сессий.
type PipelineDeps struct {
	Hasher        *Hasher
	Tagger        *geo.Tagger
	Uploader      pinning.Uploader
	Ledger        LedgerSubmitter
	Spool         *spool.Spool
	Journal       *journal.Journal
	UploadTimeout time.Duration
	// StageTimeout ограничивает каждую стадию целиком, включая
	// обращения к узлу реестра до отправки транзакции
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// defaultStageTimeout — ограничение стадии, если StageTimeout не задан.
const defaultStageTimeout = 10 * time.Minute

// ErrorView — последняя ошибка стадии для API.
type ErrorView struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
	Reason  string       `json:"reason,omitempty"`
}

// Snapshot — состояние конвейера для API.
type Snapshot struct {
	State                    pipeline.State     `json:"state"`
	FailedStage              pipeline.Stage     `json:"failed_stage,omitempty"`
	AwaitingLocationDecision bool               `json:"awaiting_location_decision"`
	Busy                     bool               `json:"busy"`
	Generation               uint64             `json:"generation"`
	Record                   *model.RecordView  `json:"record,omitempty"`
	LastError                *ErrorView         `json:"last_error,omitempty"`
	Wallet                   wallet.Status      `json:"wallet"`
	Actions                  []pipeline.Action  `json:"actions"`
	Confirmed                []model.RecordView `json:"confirmed"`
}

// Pipeline — конвейер происхождения одной сессии.
type Pipeline struct {
	owner  string
	deps   PipelineDeps
	wallet *wallet.Session
	sm     *pipeline.StateMachine
	logger *slog.Logger

	mu         sync.Mutex
	generation uint64
	record     *model.FileRecord
	blob       *spool.Blob
	lastErr    *failure.Error
	// busy — хэширование выполняется (у него нет отдельного состояния)
	busy bool
	// pendingProof — хэш и время, ожидающие решения о геолокации
	pendingProof *pendingProof
	confirmed    []model.RecordView
}

type pendingProof struct {
	fileHash  string
	timestamp time.Time
}

// NewPipeline создаёт конвейер сессии owner. Отключение кошелька сбрасывает конвейер.
func NewPipeline(owner string, w *wallet.Session, deps PipelineDeps) *Pipeline {
	if deps.StageTimeout <= 0 {
		deps.StageTimeout = defaultStageTimeout
	}
	p := &Pipeline{
		owner:  owner,
		deps:   deps,
		wallet: w,
		sm:     pipeline.NewStateMachine(),
		logger: deps.Logger.With(slog.String("component", "pipeline"), slog.String("session", owner)),
	}
	w.OnDisconnect(func(reason string) {
		p.Reset("кошелёк отключён: " + reason)
	})
	return p
}

// SelectFile сохраняет файл в спул и начинает новую запись.
// Незавершённая предыдущая запись отбрасывается; подтверждённые остаются.
func (p *Pipeline) SelectFile(name string, content io.Reader) (Snapshot, error) {
	blob, err := p.deps.Spool.Save(content, p.owner)
	if err != nil {
		return p.Snapshot(), failure.Wrap(failure.KindIO, err, "не удалось сохранить файл")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.discardLocked()
	p.blob = blob
	p.record = model.NewFileRecord(name)
	p.sm.Select()

	p.logger.Info("Файл выбран",
		slog.String("file_name", name),
		slog.Int64("size", blob.Size),
		slog.Uint64("generation", p.generation),
	)
	return p.snapshotLocked(), nil
}

// Reset отбрасывает незавершённую запись и возвращает конвейер в idle.
func (p *Pipeline) Reset(reason string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.sm.Current()
	p.discardLocked()
	p.sm.Reset()

	if from != pipeline.StateIdle {
		p.logger.Info("Конвейер сброшен",
			slog.String("reason", reason),
			slog.String("from", string(from)),
			slog.Uint64("generation", p.generation),
		)
	}
	return p.snapshotLocked()
}

// Hash вычисляет SHA-256 файла и одновременно захватывает время и координаты.
// Повтор после ошибки хэширования запускает обе задачи заново.
//
// Если недоступна только геолокация, конвейер переходит в errored и ждёт
// решения: ProceedWithoutLocation или AbortLocation.
func (p *Pipeline) Hash(ctx context.Context, loc geo.Locator) (Snapshot, error) {
	p.mu.Lock()
	if p.busy {
		defer p.mu.Unlock()
		return p.snapshotLocked(), &pipeline.TransitionError{
			Code:    pipeline.CodeStagePending,
			Message: "хэширование уже выполняется",
		}
	}
	if !p.sm.CanTransitionTo(pipeline.StateHashed) {
		defer p.mu.Unlock()
		return p.snapshotLocked(), &pipeline.TransitionError{
			Code:    pipeline.CodeInvalidTransition,
			Message: fmt.Sprintf("хэширование недоступно в состоянии %s", p.sm.Current()),
		}
	}
	if p.sm.Current() == pipeline.StateErrored {
		if err := p.sm.TransitionTo(pipeline.StateFileSelected); err != nil {
			defer p.mu.Unlock()
			return p.snapshotLocked(), err
		}
	}
	p.lastErr = nil
	p.pendingProof = nil
	p.busy = true
	gen, blob := p.generation, p.blob
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.deps.StageTimeout)
	defer cancel()

	start := time.Now()
	digestCh := async(ctx, func(ctx context.Context) (string, error) {
		return p.deps.Hasher.DigestFile(ctx, blob.Path)
	})
	captureCh := async(ctx, func(ctx context.Context) (geo.Capture, error) {
		return p.deps.Tagger.Capture(ctx, loc)
	})
	digest, capture := <-digestCh, <-captureCh
	stageDurationSeconds.WithLabelValues(string(pipeline.StageHash)).Observe(time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.staleLocked(pipeline.StageHash, gen)
		return p.snapshotLocked(), ErrStaleResult
	}
	p.busy = false

	if digest.Err != nil {
		return p.failedLocked(pipeline.StageHash, digest.Err)
	}
	if capture.Err != nil {
		// Хэш и время сохраняются до решения пользователя; координаты
		// повторно не запрашиваются
		p.pendingProof = &pendingProof{fileHash: digest.Value, timestamp: capture.Value.Timestamp}
		return p.failedLocked(pipeline.StageHash, capture.Err)
	}

	if err := p.record.SetProof(digest.Value, capture.Value.Timestamp, capture.Value.Location); err != nil {
		return p.failedLocked(pipeline.StageHash, failure.Wrap(failure.KindIO, err, "некорректный результат хэширования"))
	}
	p.advanceLocked(pipeline.StageHash, pipeline.StateHashed)
	return p.snapshotLocked(), nil
}

// ProceedWithoutLocation фиксирует хэш и время без координат.
func (p *Pipeline) ProceedWithoutLocation() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pendingProof == nil || !p.sm.CanTransitionTo(pipeline.StateHashed) {
		return p.snapshotLocked(), ErrNoLocationDecision
	}
	if err := p.record.SetProof(p.pendingProof.fileHash, p.pendingProof.timestamp, nil); err != nil {
		return p.snapshotLocked(), err
	}
	if err := p.sm.TransitionTo(pipeline.StateHashed); err != nil {
		return p.snapshotLocked(), err
	}
	p.pendingProof = nil
	p.lastErr = nil

	p.logger.Info("Продолжение без геолокации", slog.Uint64("generation", p.generation))
	stageTotal.WithLabelValues(string(pipeline.StageHash), "ok").Inc()
	return p.snapshotLocked(), nil
}

// AbortLocation отказывается от записи без координат: конвейер возвращается
// в file_selected, поля записи остаются пустыми.
func (p *Pipeline) AbortLocation() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pendingProof == nil {
		return p.snapshotLocked(), ErrNoLocationDecision
	}
	if err := p.sm.TransitionTo(pipeline.StateFileSelected); err != nil {
		return p.snapshotLocked(), err
	}
	p.pendingProof = nil
	p.lastErr = nil
	p.logger.Info("Запись без геолокации отклонена", slog.Uint64("generation", p.generation))
	return p.snapshotLocked(), nil
}

// Upload закрепляет файл из спула и сохраняет CID в записи.
// Повтор после ошибки безопасен: неудачная загрузка ничего не меняет в записи.
func (p *Pipeline) Upload(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if !p.wallet.Connected() {
		defer p.mu.Unlock()
		return p.snapshotLocked(), ErrWalletNotConnected
	}
	if err := p.sm.TransitionTo(pipeline.StateUploading); err != nil {
		defer p.mu.Unlock()
		return p.snapshotLocked(), err
	}
	p.lastErr = nil
	gen, blob := p.generation, p.blob
	req := pinning.Request{
		Name:     p.record.FileName(),
		FileHash: p.record.FileHash(),
		Size:     blob.Size,
	}
	entry, err := p.deps.Journal.Start(journal.OpPin, p.owner, req.FileHash)
	if err != nil {
		defer p.mu.Unlock()
		return p.failedLocked(pipeline.StageUpload, failure.Wrap(failure.KindIO, err, "журнал операций недоступен"))
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.deps.StageTimeout)
	defer cancel()

	start := time.Now()
	cid, err := p.pin(ctx, blob, req)
	stageDurationSeconds.WithLabelValues(string(pipeline.StageUpload)).Observe(time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	stale := gen != p.generation
	p.finishEntry(entry.EntryID, err, stale, func(e *journal.Entry) {
		e.ContentID = cid
	})
	if stale {
		p.staleLocked(pipeline.StageUpload, gen)
		return p.snapshotLocked(), ErrStaleResult
	}
	if err != nil {
		return p.failedLocked(pipeline.StageUpload, err)
	}

	if err := p.record.SetContentID(cid); err != nil {
		return p.failedLocked(pipeline.StageUpload, failure.Wrap(failure.KindUploadFailed, err, "CID не применён"))
	}
	p.advanceLocked(pipeline.StageUpload, pipeline.StateUploaded)
	return p.snapshotLocked(), nil
}

// pin сверяет байты спула с зафиксированным хэшем и закрепляет их.
func (p *Pipeline) pin(ctx context.Context, blob *spool.Blob, req pinning.Request) (string, error) {
	digest, err := p.deps.Hasher.DigestFile(ctx, blob.Path)
	if err != nil {
		return "", err
	}
	if digest != req.FileHash {
		return "", failure.New(failure.KindIO, "файл в спуле изменился после хэширования")
	}

	f, err := p.deps.Spool.Open(blob)
	if err != nil {
		return "", failure.Wrap(failure.KindIO, err, "файл недоступен")
	}
	defer f.Close()
	req.Content = f

	ctx, cancel := context.WithTimeout(ctx, p.deps.UploadTimeout)
	defer cancel()

	cid, err := p.deps.Uploader.Pin(ctx, req)
	if err != nil {
		return "", failure.Wrap(failure.KindUploadFailed, err, "закрепление в %s", p.deps.Uploader.Backend())
	}
	return cid, nil
}

// Submit отправляет запись в реестр и ждёт подтверждения.
// Каждый вызов — новая транзакция; подтверждённая запись неизменяема.
func (p *Pipeline) Submit(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	signer, err := p.wallet.Signer()
	if err != nil {
		defer p.mu.Unlock()
		return p.snapshotLocked(), ErrWalletNotConnected
	}
	if err := p.sm.TransitionTo(pipeline.StateSubmitting); err != nil {
		defer p.mu.Unlock()
		return p.snapshotLocked(), err
	}
	p.lastErr = nil
	gen := p.generation
	payload, err := p.record.LedgerPayload()
	if err != nil {
		defer p.mu.Unlock()
		return p.failedLocked(pipeline.StageSubmit, failure.Wrap(failure.KindTransactionRejected, err, "запись не готова"))
	}
	entry, err := p.deps.Journal.Start(journal.OpAnchor, p.owner, payload.FileHash)
	if err != nil {
		defer p.mu.Unlock()
		return p.failedLocked(pipeline.StageSubmit, failure.Wrap(failure.KindIO, err, "журнал операций недоступен"))
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.deps.StageTimeout)
	defer cancel()

	start := time.Now()
	txHash, err := p.anchor(ctx, signer, payload, entry.EntryID)
	stageDurationSeconds.WithLabelValues(string(pipeline.StageSubmit)).Observe(time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	stale := gen != p.generation
	p.finishEntry(entry.EntryID, err, stale, func(e *journal.Entry) {
		e.ContentID = payload.ContentID
		e.TxHash = txHash
	})
	if stale {
		p.staleLocked(pipeline.StageSubmit, gen)
		return p.snapshotLocked(), ErrStaleResult
	}
	if err != nil {
		return p.failedLocked(pipeline.StageSubmit, err)
	}

	if err := p.record.Seal(txHash); err != nil {
		p.logger.Error("Подтверждённая транзакция не применена",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return p.snapshotLocked(), err
	}
	p.confirmed = append(p.confirmed, p.record.View())
	p.advanceLocked(pipeline.StageSubmit, pipeline.StateConfirmed)
	return p.snapshotLocked(), nil
}

// anchor отправляет транзакцию, сохраняет её хэш в журнале и ждёт подтверждения.
func (p *Pipeline) anchor(ctx context.Context, signer wallet.Signer, payload model.LedgerPayload, entryID string) (string, error) {
	pending, err := p.deps.Ledger.Submit(ctx, signer, payload)
	if err != nil {
		return "", failure.Wrap(failure.KindNetwork, err, "отправка в реестр")
	}
	txHash := pending.Hash()
	if err := p.deps.Journal.MarkBroadcast(entryID, txHash); err != nil {
		p.logger.Error("Не удалось сохранить хэш транзакции в журнале",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}
	if err := pending.Wait(ctx); err != nil {
		return txHash, failure.Wrap(failure.KindNetwork, err, "подтверждение %s", txHash)
	}
	return txHash, nil
}

// Snapshot возвращает текущее состояние конвейера.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Confirmed возвращает подтверждённые записи сессии.
func (p *Pipeline) Confirmed() []model.RecordView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.RecordView{}, p.confirmed...)
}

// BlobName возвращает имя файла текущей записи в спуле; пусто, если файла нет.
func (p *Pipeline) BlobName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blob == nil {
		return ""
	}
	return p.blob.Name
}

// History возвращает историю переходов автомата.
func (p *Pipeline) History() []pipeline.TransitionRecord {
	return p.sm.History()
}

// discardLocked отбрасывает незавершённую запись и её файл в спуле.
func (p *Pipeline) discardLocked() {
	p.generation++
	if p.blob != nil {
		if err := p.deps.Spool.Delete(p.blob); err != nil {
			p.logger.Warn("Не удалось удалить файл из спула",
				slog.String("blob", p.blob.Name),
				slog.String("error", err.Error()),
			)
		}
		p.blob = nil
	}
	p.record = nil
	p.lastErr = nil
	p.pendingProof = nil
	p.busy = false
}

// advanceLocked завершает стадию переходом в target.
func (p *Pipeline) advanceLocked(stage pipeline.Stage, target pipeline.State) {
	from := p.sm.Current()
	if err := p.sm.TransitionTo(target); err != nil {
		p.logger.Error("Недопустимый переход после стадии",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
		return
	}
	stageTotal.WithLabelValues(string(stage), "ok").Inc()
	p.logger.Info("Стадия завершена",
		slog.Uint64("generation", p.generation),
		slog.String("from", string(from)),
		slog.String("to", string(target)),
	)
}

// failedLocked завершает стадию ошибкой и возвращает состояние после неё.
func (p *Pipeline) failedLocked(stage pipeline.Stage, err error) (Snapshot, error) {
	fe := p.failLocked(stage, err)
	return p.snapshotLocked(), fe
}

// failLocked переводит конвейер в errored и запоминает ошибку.
func (p *Pipeline) failLocked(stage pipeline.Stage, err error) error {
	fe, ok := failure.As(err)
	if !ok {
		fe = failure.Wrap(stageFallback[stage], err, "стадия %s", stage)
	}
	if _, ferr := p.sm.Fail(); ferr != nil {
		p.logger.Error("Ошибка стадии вне выполняемого состояния",
			slog.String("stage", string(stage)),
			slog.String("error", ferr.Error()),
		)
	}
	p.lastErr = fe
	stageTotal.WithLabelValues(string(stage), string(fe.Kind)).Inc()
	p.logger.Warn("Стадия завершилась ошибкой",
		slog.String("stage", string(stage)),
		slog.String("kind", string(fe.Kind)),
		slog.Uint64("generation", p.generation),
		slog.String("error", fe.Error()),
	)
	return fe
}

// stageFallback — вид ошибки стадии, если источник его не указал.
var stageFallback = map[pipeline.Stage]failure.Kind{
	pipeline.StageHash:   failure.KindIO,
	pipeline.StageUpload: failure.KindUploadFailed,
	pipeline.StageSubmit: failure.KindNetwork,
}

// staleLocked учитывает отброшенный результат.
func (p *Pipeline) staleLocked(stage pipeline.Stage, gen uint64) {
	staleResultsTotal.WithLabelValues(string(stage)).Inc()
	p.logger.Info("Отброшен устаревший результат",
		slog.String("stage", string(stage)),
		slog.Uint64("result_generation", gen),
		slog.Uint64("generation", p.generation),
	)
}

// finishEntry завершает запись журнала. Устаревший успешный результат
// фиксируется с пометкой stale: пин или транзакция уже существуют вне агента.
func (p *Pipeline) finishEntry(id string, err error, stale bool, apply func(*journal.Entry)) {
	var jerr error
	if err != nil {
		jerr = p.deps.Journal.Rollback(id, string(failure.KindOf(err, failure.KindIO))+": "+err.Error())
	} else {
		jerr = p.deps.Journal.Commit(id, func(e *journal.Entry) {
			apply(e)
			e.Stale = stale
		})
	}
	if jerr != nil {
		p.logger.Error("Не удалось завершить запись журнала",
			slog.String("entry_id", id),
			slog.String("error", jerr.Error()),
		)
	}
}

func (p *Pipeline) snapshotLocked() Snapshot {
	status := p.wallet.Status()
	state := p.sm.Current()

	s := Snapshot{
		State:                    state,
		FailedStage:              p.sm.FailedStage(),
		AwaitingLocationDecision: p.pendingProof != nil,
		Busy:                     p.busy || state == pipeline.StateUploading || state == pipeline.StateSubmitting,
		Generation:               p.generation,
		Wallet:                   status,
		Actions:                  make([]pipeline.Action, 0, 4),
		Confirmed:                append([]model.RecordView{}, p.confirmed...),
	}
	if p.record != nil {
		v := p.record.View()
		s.Record = &v
	}
	if p.lastErr != nil {
		s.LastError = &ErrorView{
			Kind:    p.lastErr.Kind,
			Message: strings.TrimPrefix(p.lastErr.Error(), string(p.lastErr.Kind)+": "),
			Reason:  p.lastErr.Reason,
		}
	}

	for _, a := range p.sm.Actions() {
		switch a {
		case pipeline.ActionHash, pipeline.ActionRetryHash:
			if p.busy {
				continue
			}
		case pipeline.ActionUpload, pipeline.ActionRetryUpload, pipeline.ActionSubmit, pipeline.ActionRetrySubmit:
			if !status.Connected {
				continue
			}
		}
		s.Actions = append(s.Actions, a)
	}
	if p.pendingProof != nil {
		s.Actions = append(s.Actions, pipeline.ActionProceedNoGeo, pipeline.ActionAbortLocation)
	}
	return s
}
