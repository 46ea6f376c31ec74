package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/model"
)

var fixedNow = time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

func newTestTagger(timeout time.Duration) *Tagger {
	tg := NewTagger(timeout)
	tg.now = func() time.Time { return fixedNow }
	return tg
}

// TestCapture_Success проверяет время и координаты.
func TestCapture_Success(t *testing.T) {
	c, err := newTestTagger(time.Second).Capture(context.Background(),
		Fixed(model.Location{Latitude: 55.75, Longitude: 37.61}))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !c.Timestamp.Equal(fixedNow) {
		t.Errorf("время: ожидалось %v, получено %v", fixedNow, c.Timestamp)
	}
	if c.Location == nil || c.Location.Latitude != 55.75 {
		t.Errorf("координаты: %+v", c.Location)
	}
}

// TestCapture_Denied проверяет отказ в доступе.
func TestCapture_Denied(t *testing.T) {
	c, err := newTestTagger(time.Second).Capture(context.Background(), Denied)

	if failure.KindOf(err, "") != failure.KindLocationUnavailable {
		t.Fatalf("ожидалась LOCATION_UNAVAILABLE, получено %v", err)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("причина должна сохраняться в цепочке ошибок")
	}
	if c.Location != nil {
		t.Error("координаты не должны подставляться")
	}
	if c.Timestamp.IsZero() {
		t.Error("время захвата должно быть зафиксировано и при ошибке")
	}
}

// TestCapture_Timeout проверяет ограничение ожидания, даже если источник игнорирует контекст.
func TestCapture_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := LocatorFunc(func(context.Context) (model.Location, error) {
		<-release
		return model.Location{}, nil
	})

	start := time.Now()
	_, err := newTestTagger(50*time.Millisecond).Capture(context.Background(), slow)
	if failure.KindOf(err, "") != failure.KindLocationUnavailable {
		t.Fatalf("ожидалась LOCATION_UNAVAILABLE, получено %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ожидание не ограничено: %v", elapsed)
	}
}

// TestCapture_InvalidFix проверяет отклонение координат вне диапазона.
func TestCapture_InvalidFix(t *testing.T) {
	_, err := newTestTagger(time.Second).Capture(context.Background(),
		Fixed(model.Location{Latitude: 123}))
	if failure.KindOf(err, "") != failure.KindLocationUnavailable {
		t.Errorf("ожидалась LOCATION_UNAVAILABLE, получено %v", err)
	}
}

// TestSources проверяет выбор источника по данным клиента.
func TestSources(t *testing.T) {
	ctx := context.Background()
	fix := &model.Location{Latitude: 1, Longitude: 2}

	if _, err := (ClientSource{}).Locator(fix, true).Locate(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("client+denied: %v", err)
	}
	if _, err := (ClientSource{}).Locator(nil, false).Locate(ctx); !errors.Is(err, ErrNoFix) {
		t.Errorf("client без координат: %v", err)
	}
	if loc, err := (ClientSource{}).Locator(fix, false).Locate(ctx); err != nil || loc != *fix {
		t.Errorf("client с координатами: %v, %v", loc, err)
	}

	static := StaticSource{Location: model.Location{Latitude: 10, Longitude: 20}}
	if loc, _ := static.Locator(fix, false).Locate(ctx); loc.Latitude != 10 {
		t.Errorf("static должен игнорировать координаты клиента: %+v", loc)
	}
	if _, err := static.Locator(nil, true).Locate(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("static+denied: %v", err)
	}
}

// TestIPAPISource проверяет разбор ответа ip-api.
func TestIPAPISource(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"успех", 200, `{"status":"success","lat":52.52,"lon":13.405}`, false},
		{"отказ сервиса", 200, `{"status":"fail","message":"private range"}`, true},
		{"HTTP ошибка", 503, ``, true},
		{"мусор", 200, `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			loc, err := NewIPAPISource(srv.URL, srv.Client()).Locator(nil, false).Locate(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Error("ожидалась ошибка")
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if loc.Latitude != 52.52 || loc.Longitude != 13.405 {
				t.Errorf("координаты: %+v", loc)
			}
		})
	}
}
