package pipeline

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

// advance проводит автомат по списку состояний, падая на первой ошибке.
func advance(t *testing.T, sm *StateMachine, states ...State) {
	t.Helper()
	for _, s := range states {
		if err := sm.TransitionTo(s); err != nil {
			t.Fatalf("переход в %s: %v", s, err)
		}
	}
}

// TestHappyPath проверяет прямой путь до confirmed.
func TestHappyPath(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != StateIdle {
		t.Fatalf("начальное состояние: ожидалось idle, получено %s", sm.Current())
	}

	sm.Select()
	advance(t, sm, StateHashed, StateUploading, StateUploaded, StateSubmitting, StateConfirmed)

	if sm.Current() != StateConfirmed {
		t.Errorf("ожидалось confirmed, получено %s", sm.Current())
	}
}

// TestNoStageSkipping проверяет, что стадии нельзя пропустить.
func TestNoStageSkipping(t *testing.T) {
	tests := []struct {
		from   []State
		target State
	}{
		{nil, StateUploading},
		{nil, StateConfirmed},
		{[]State{StateHashed}, StateUploaded},
		{[]State{StateHashed}, StateSubmitting},
		{[]State{StateHashed, StateUploading, StateUploaded}, StateConfirmed},
	}

	for _, tt := range tests {
		sm := NewStateMachine()
		sm.Select()
		advance(t, sm, tt.from...)

		err := sm.TransitionTo(tt.target)
		var te *TransitionError
		if !errors.As(err, &te) || te.Code != CodeInvalidTransition {
			t.Errorf("%s → %s: ожидалась INVALID_TRANSITION, получено %v", sm.Current(), tt.target, err)
		}
	}
}

// TestConfirmedIsTerminal проверяет, что из confirmed выход только через новый файл или сброс.
func TestConfirmedIsTerminal(t *testing.T) {
	sm := NewStateMachine()
	sm.Select()
	advance(t, sm, StateHashed, StateUploading, StateUploaded, StateSubmitting, StateConfirmed)

	for _, s := range []State{StateSubmitting, StateUploading, StateErrored, StateHashed} {
		if sm.CanTransitionTo(s) {
			t.Errorf("confirmed → %s не должен быть допустим", s)
		}
	}
	if _, err := sm.Fail(); err == nil {
		t.Error("Fail в confirmed должен вернуть ошибку")
	}
}

// TestFailAndRetry проверяет, что errored допускает только повтор упавшей стадии.
func TestFailAndRetry(t *testing.T) {
	sm := NewStateMachine()
	sm.Select()
	advance(t, sm, StateHashed, StateUploading, StateUploaded, StateSubmitting)

	stage, err := sm.Fail()
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if stage != StageSubmit || sm.FailedStage() != StageSubmit {
		t.Errorf("ожидалась стадия submit, получено %s", stage)
	}

	if sm.CanTransitionTo(StateUploading) {
		t.Error("errored(submit) → uploading не должен быть допустим")
	}
	advance(t, sm, StateSubmitting, StateConfirmed)

	if sm.FailedStage() != StageNone {
		t.Error("после повтора упавшая стадия должна очищаться")
	}
}

// TestHashFailureExits проверяет выходы из errored(hash).
func TestHashFailureExits(t *testing.T) {
	for _, target := range []State{StateHashed, StateFileSelected} {
		sm := NewStateMachine()
		sm.Select()
		if _, err := sm.Fail(); err != nil {
			t.Fatal(err)
		}
		if err := sm.TransitionTo(target); err != nil {
			t.Errorf("errored(hash) → %s: %v", target, err)
		}
	}
}

// TestStagePending проверяет код STAGE_PENDING при повторном запуске стадии.
func TestStagePending(t *testing.T) {
	sm := NewStateMachine()
	sm.Select()
	advance(t, sm, StateHashed, StateUploading)

	err := sm.TransitionTo(StateUploading)
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != CodeStagePending {
		t.Errorf("ожидалась STAGE_PENDING, получено %v", err)
	}
}

// TestSelectAndResetFromAnyState проверяет сброс из любого состояния.
func TestSelectAndResetFromAnyState(t *testing.T) {
	sm := NewStateMachine()
	sm.Select()
	advance(t, sm, StateHashed, StateUploading)

	sm.Select()
	if sm.Current() != StateFileSelected {
		t.Errorf("Select: ожидалось file_selected, получено %s", sm.Current())
	}

	h := sm.History()
	last := h[len(h)-2:]
	if last[0].To != StateIdle || last[1].To != StateFileSelected {
		t.Errorf("новый файл должен проходить через idle: %+v", last)
	}

	sm.Reset()
	if sm.Current() != StateIdle {
		t.Errorf("Reset: ожидалось idle, получено %s", sm.Current())
	}
}

// TestActions проверяет набор действий по состояниям.
func TestActions(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.Actions(); !slices.Equal(got, []Action{ActionSelect}) {
		t.Errorf("idle: %v", got)
	}

	sm.Select()
	advance(t, sm, StateHashed, StateUploading)
	if _, err := sm.Fail(); err != nil {
		t.Fatal(err)
	}
	got := sm.Actions()
	if !slices.Contains(got, ActionRetryUpload) || slices.Contains(got, ActionSubmit) {
		t.Errorf("errored(upload): %v", got)
	}
}

// TestConcurrentAccess проверяет потокобезопасность чтения при переходах.
func TestConcurrentAccess(t *testing.T) {
	sm := NewStateMachine()
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sm.Current()
			_ = sm.Actions()
		}()
		go func() {
			defer wg.Done()
			sm.Select()
			sm.Reset()
		}()
	}
	wg.Wait()
}
