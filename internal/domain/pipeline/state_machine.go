// Пакет pipeline — конечный автомат конвейера происхождения файла.
//
// Прямой путь:
//
//	idle → file_selected → hashed → uploading → uploaded → submitting → confirmed
//
// Из каждого незавершённого состояния стадия может перейти в errored;
// errored помнит упавшую стадию и допускает только её повтор.
// Сброс в idle (отключение кошелька, новый файл) допустим из любого состояния.
//
// Потокобезопасен через sync.RWMutex.
package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние конвейера.
type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "file_selected"
	StateHashed       State = "hashed"
	StateUploading    State = "uploading"
	StateUploaded     State = "uploaded"
	StateSubmitting   State = "submitting"
	StateConfirmed    State = "confirmed"
	StateErrored      State = "errored"
)

// Stage — стадия, которая может завершиться ошибкой.
type Stage string

const (
	StageNone   Stage = ""
	StageHash   Stage = "hash"
	StageUpload Stage = "upload"
	StageSubmit Stage = "submit"
)

// Action — действие пользователя, доступное в текущем состоянии.
type Action string

const (
	ActionSelect        Action = "select"
	ActionHash          Action = "hash"
	ActionUpload        Action = "upload"
	ActionSubmit        Action = "submit"
	ActionProceedNoGeo  Action = "proceed_without_location"
	ActionAbortLocation Action = "abort_location"
	ActionReset         Action = "reset"
	ActionRetryHash     Action = "retry_hash"
	ActionRetryUpload   Action = "retry_upload"
	ActionRetrySubmit   Action = "retry_submit"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStagePending      = "STAGE_PENDING"
)

// TransitionRecord — запись о переходе.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Stage     Stage     `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine — конечный автомат конвейера одной сессии.
type StateMachine struct {
	mu          sync.RWMutex
	current     State
	failedStage Stage
	history     []TransitionRecord
	maxHistory  int
}

// validTransitions — матрица допустимых прямых переходов.
// Сброс в idle и выбор нового файла проверяются отдельно (Reset, Select).
var validTransitions = map[State]map[State]bool{
	StateIdle:         {StateFileSelected: true},
	StateFileSelected: {StateHashed: true},
	StateHashed:       {StateUploading: true},
	StateUploading:    {StateUploaded: true},
	StateUploaded:     {StateSubmitting: true},
	StateSubmitting:   {StateConfirmed: true},
	StateConfirmed:    {},
	StateErrored:      {},
}

// retryTargets — куда можно выйти из errored в зависимости от упавшей стадии.
// Для хэширования file_selected — отказ от записи без геолокации.
var retryTargets = map[Stage]map[State]bool{
	StageHash:   {StateHashed: true, StateFileSelected: true},
	StageUpload: {StateUploading: true},
	StageSubmit: {StateSubmitting: true},
}

// failableStates — состояния, в которых выполняется стадия, и сама стадия.
var failableStates = map[State]Stage{
	StateFileSelected: StageHash,
	StateUploading:    StageUpload,
	StateSubmitting:   StageSubmit,
}

// NewStateMachine создаёт автомат в состоянии idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current:    StateIdle,
		history:    make([]TransitionRecord, 0),
		maxHistory: 256,
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// FailedStage возвращает упавшую стадию (только в errored).
func (sm *StateMachine) FailedStage() Stage {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.failedStage
}

// CanTransitionTo проверяет, допустим ли переход в target.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.canTransitionLocked(target)
}

func (sm *StateMachine) canTransitionLocked(target State) bool {
	if sm.current == StateErrored {
		return retryTargets[sm.failedStage][target]
	}
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет прямой переход или выход из errored в повтор стадии.
//
// Ошибки:
//   - INVALID_TRANSITION — переход недопустим
//   - STAGE_PENDING — стадия уже выполняется
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.canTransitionLocked(target) {
		if sm.current == target && (target == StateUploading || target == StateSubmitting) {
			return &TransitionError{
				Code:    CodeStagePending,
				Message: fmt.Sprintf("стадия %s уже выполняется", target),
			}
		}
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.describeLocked(), target),
		}
	}

	sm.recordLocked(target, StageNone)
	sm.failedStage = StageNone
	return nil
}

// Fail переводит автомат в errored, запоминая стадию текущего состояния.
func (sm *StateMachine) Fail() (Stage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stage, ok := failableStates[sm.current]
	if !ok {
		return StageNone, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("в состоянии %s нет выполняемой стадии", sm.current),
		}
	}
	sm.recordLocked(StateErrored, stage)
	sm.failedStage = stage
	return stage, nil
}

// Select переводит автомат в file_selected из любого состояния через idle.
func (sm *StateMachine) Select() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current != StateIdle {
		sm.recordLocked(StateIdle, StageNone)
	}
	sm.recordLocked(StateFileSelected, StageNone)
	sm.failedStage = StageNone
}

// Reset возвращает автомат в idle из любого состояния.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current == StateIdle {
		return
	}
	sm.recordLocked(StateIdle, StageNone)
	sm.failedStage = StageNone
}

// Actions возвращает действия пользователя, допустимые в текущем состоянии.
// Доступность upload/submit дополнительно зависит от кошелька; это решает вызывающий.
func (sm *StateMachine) Actions() []Action {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	actions := []Action{ActionSelect}
	switch sm.current {
	case StateFileSelected:
		actions = append(actions, ActionHash)
	case StateHashed:
		actions = append(actions, ActionUpload)
	case StateUploaded:
		actions = append(actions, ActionSubmit)
	case StateErrored:
		switch sm.failedStage {
		case StageHash:
			actions = append(actions, ActionRetryHash)
		case StageUpload:
			actions = append(actions, ActionRetryUpload)
		case StageSubmit:
			actions = append(actions, ActionRetrySubmit)
		}
	}
	if sm.current != StateIdle {
		actions = append(actions, ActionReset)
	}
	return actions
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

func (sm *StateMachine) recordLocked(target State, stage Stage) {
	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	})
	if len(sm.history) > sm.maxHistory {
		sm.history = sm.history[len(sm.history)-sm.maxHistory:]
	}
	sm.current = target
}

func (sm *StateMachine) describeLocked() string {
	if sm.current == StateErrored && sm.failedStage != StageNone {
		return fmt.Sprintf("%s(%s)", sm.current, sm.failedStage)
	}
	return string(sm.current)
}

// TransitionError — ошибка перехода конвейера.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, STAGE_PENDING)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
