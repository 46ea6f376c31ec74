package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestFileRecord_FullLifecycle(t *testing.T) {
	r := NewFileRecord("photo.jpg")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 700_000_000, time.UTC)

	if err := r.SetProof(helloHash, ts, &Location{Latitude: 55.7558, Longitude: -37.6173}); err != nil {
		t.Fatalf("SetProof: %v", err)
	}
	if err := r.SetContentID("QmTest123"); err != nil {
		t.Fatalf("SetContentID: %v", err)
	}

	p, err := r.LedgerPayload()
	if err != nil {
		t.Fatalf("LedgerPayload: %v", err)
	}
	if p.UnixSeconds != ts.Unix() {
		t.Errorf("UnixSeconds = %d, ожидалось %d (целые секунды)", p.UnixSeconds, ts.Unix())
	}
	if p.LatitudeE6 != 55755800 || p.LongitudeE6 != -37617300 {
		t.Errorf("координаты E6 = %d, %d", p.LatitudeE6, p.LongitudeE6)
	}

	if err := r.Seal("0xabc"); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !r.Sealed() || !r.View().Confirmed {
		t.Error("запись должна быть подтверждена")
	}
}

func TestFileRecord_StageOrder(t *testing.T) {
	r := NewFileRecord("a.txt")

	if err := r.SetContentID("QmX"); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("CID до хэша: ожидалась ErrOutOfOrder, получено %v", err)
	}
	if err := r.Seal("0x1"); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("tx до CID: ожидалась ErrOutOfOrder, получено %v", err)
	}

	if err := r.SetProof(helloHash, time.Now(), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal("0x1"); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("tx без CID: ожидалась ErrOutOfOrder, получено %v", err)
	}
	if err := r.SetProof(helloHash, time.Now(), nil); !errors.Is(err, ErrFieldImmutable) {
		t.Errorf("повторный SetProof: ожидалась ErrFieldImmutable, получено %v", err)
	}
	if r.TransactionHash() != "" || r.ContentID() != "" {
		t.Error("поля не должны быть заполнены")
	}
}

func TestFileRecord_SealedRejectsMutation(t *testing.T) {
	r := NewFileRecord("a.txt")
	_ = r.SetProof(helloHash, time.Now(), nil)
	_ = r.SetContentID("QmA")
	_ = r.Seal("0x1")

	if err := r.SetContentID("QmB"); !errors.Is(err, ErrRecordSealed) {
		t.Errorf("SetContentID: ожидалась ErrRecordSealed, получено %v", err)
	}
	if err := r.Seal("0x2"); !errors.Is(err, ErrRecordSealed) {
		t.Errorf("Seal: ожидалась ErrRecordSealed, получено %v", err)
	}
	if r.ContentID() != "QmA" || r.TransactionHash() != "0x1" {
		t.Error("подтверждённая запись изменилась")
	}
}

func TestFileRecord_NoLocationSentinel(t *testing.T) {
	r := NewFileRecord("a.txt")
	_ = r.SetProof(helloHash, time.Now(), nil)
	_ = r.SetContentID("QmA")

	p, err := r.LedgerPayload()
	if err != nil {
		t.Fatal(err)
	}
	if p.LatitudeE6 != NoCoordinateE6 || p.LongitudeE6 != NoCoordinateE6 {
		t.Errorf("ожидался маркер отсутствия координат, получено %d, %d", p.LatitudeE6, p.LongitudeE6)
	}
	if v := r.View(); v.Latitude != nil || v.Longitude != nil {
		t.Error("представление не должно содержать координат")
	}
}

func TestFileRecord_LocationIsCopied(t *testing.T) {
	loc := &Location{Latitude: 1, Longitude: 2}
	r := NewFileRecord("a.txt")
	_ = r.SetProof(helloHash, time.Now(), loc)

	loc.Latitude = 50
	if got := r.Location(); got.Latitude != 1 {
		t.Errorf("координаты записи изменились извне: %v", got.Latitude)
	}
}

func TestScaleE6(t *testing.T) {
	tests := []struct {
		deg  float64
		want int64
	}{
		{0, 0},
		{55.7558, 55755800},
		{-122.419415, -122419415},
		{0.25, 250000},
		{-0.0000004, 0},
		{180, 180000000},
	}
	for _, tt := range tests {
		if got := ScaleE6(tt.deg); got != tt.want {
			t.Errorf("ScaleE6(%v) = %d, ожидалось %d", tt.deg, got, tt.want)
		}
	}
}

func TestLocation_Validate(t *testing.T) {
	bad := []Location{
		{Latitude: 91},
		{Longitude: -180.1},
		{Latitude: math.NaN()},
	}
	for _, l := range bad {
		if err := l.Validate(); err == nil {
			t.Errorf("ожидалась ошибка для %+v", l)
		}
	}
	if err := (Location{Latitude: -90, Longitude: 180}).Validate(); err != nil {
		t.Errorf("граничные значения допустимы: %v", err)
	}
}

func TestValidateHash(t *testing.T) {
	if err := ValidateHash(helloHash); err != nil {
		t.Errorf("корректный хэш отклонён: %v", err)
	}
	if err := ValidateHash("abc"); err == nil {
		t.Error("короткий хэш должен отклоняться")
	}
	if err := ValidateHash(helloHash[:63] + "z"); err == nil {
		t.Error("не-hex символ должен отклоняться")
	}
}
