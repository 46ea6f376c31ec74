// Пакет geo — захват времени и геолокации для записи о происхождении.
// Время фиксируется в момент вызова, координаты запрашиваются у
// источника с ограничением по времени. Подстановки координат по
// умолчанию нет: при отказе вызывающий решает, продолжать ли без них.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/model"
)

var (
	// ErrPermissionDenied — пользователь запретил доступ к геолокации.
	ErrPermissionDenied = errors.New("доступ к геолокации запрещён")
	// ErrNoFix — источник не смог определить координаты.
	ErrNoFix = errors.New("координаты не определены")
)

// Locator — источник координат.
type Locator interface {
	Locate(ctx context.Context) (model.Location, error)
}

// LocatorFunc — адаптер функции к Locator.
type LocatorFunc func(ctx context.Context) (model.Location, error)

// Locate реализует Locator.
func (f LocatorFunc) Locate(ctx context.Context) (model.Location, error) {
	return f(ctx)
}

// Denied — источник, для которого доступ запрещён.
var Denied = LocatorFunc(func(context.Context) (model.Location, error) {
	return model.Location{}, ErrPermissionDenied
})

// Fixed — источник с заранее известными координатами.
func Fixed(loc model.Location) Locator {
	return LocatorFunc(func(context.Context) (model.Location, error) {
		return loc, nil
	})
}

// Capture — результат захвата: время всегда есть, координаты могут отсутствовать.
type Capture struct {
	Timestamp time.Time
	Location  *model.Location
}

// Tagger — захват времени и координат.
type Tagger struct {
	timeout time.Duration
	now     func() time.Time
}

// NewTagger создаёт Tagger с ограничением ожидания координат.
func NewTagger(timeout time.Duration) *Tagger {
	return &Tagger{timeout: timeout, now: time.Now}
}

// Capture фиксирует текущее время и ждёт координаты не дольше таймаута.
// При отказе или таймауте возвращает Capture с временем и ошибку
// failure.KindLocationUnavailable.
func (t *Tagger) Capture(ctx context.Context, loc Locator) (Capture, error) {
	c := Capture{Timestamp: t.now().UTC()}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		loc model.Location
		err error
	}
	// Буфер на один результат: источник, игнорирующий контекст, не блокируется
	ch := make(chan result, 1)
	go func() {
		l, err := loc.Locate(ctx)
		ch <- result{loc: l, err: err}
	}()

	select {
	case <-ctx.Done():
		return c, failure.Wrap(failure.KindLocationUnavailable, ctx.Err(),
			"координаты не получены за %v", t.timeout)
	case r := <-ch:
		if r.err != nil {
			return c, failure.Wrap(failure.KindLocationUnavailable, r.err, "геолокация недоступна")
		}
		if err := r.loc.Validate(); err != nil {
			return c, failure.Wrap(failure.KindLocationUnavailable, err, "источник вернул некорректные координаты")
		}
		fix := r.loc
		c.Location = &fix
		return c, nil
	}
}

// Source выбирает источник координат для запроса хэширования.
type Source interface {
	// Locator возвращает источник с учётом данных клиента: координат
	// устройства (fix) и явного запрета (denied).
	Locator(fix *model.Location, denied bool) Locator
}

// ClientSource — координаты присылает клиент.
type ClientSource struct{}

// Locator реализует Source.
func (ClientSource) Locator(fix *model.Location, denied bool) Locator {
	switch {
	case denied:
		return Denied
	case fix == nil:
		return LocatorFunc(func(context.Context) (model.Location, error) {
			return model.Location{}, fmt.Errorf("клиент не передал координаты: %w", ErrNoFix)
		})
	default:
		return Fixed(*fix)
	}
}

// StaticSource — координаты из конфигурации (стационарное устройство).
type StaticSource struct {
	Location model.Location
}

// Locator реализует Source. Явный запрет клиента сильнее конфигурации.
func (s StaticSource) Locator(_ *model.Location, denied bool) Locator {
	if denied {
		return Denied
	}
	return Fixed(s.Location)
}
