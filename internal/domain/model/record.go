// Пакет model — доменные модели конвейера происхождения файлов.
// FileRecord заполняется стадия за стадией и после подтверждения в реестре
// становится неизменяемым.
package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// NoCoordinateE6 — значение широты/долготы в реестре для записи без геолокации.
// Лежит вне допустимых диапазонов ±90e6 и ±180e6.
const NoCoordinateE6 int64 = math.MinInt32

// HashLength — длина hex-представления SHA-256.
const HashLength = 64

var (
	// ErrRecordSealed — запись подтверждена в реестре и больше не меняется.
	ErrRecordSealed = errors.New("запись подтверждена и неизменяема")
	// ErrFieldImmutable — поле уже установлено.
	ErrFieldImmutable = errors.New("поле уже установлено")
	// ErrOutOfOrder — нарушен порядок заполнения записи.
	ErrOutOfOrder = errors.New("нарушен порядок стадий")
)

// Location — координаты в градусах.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate проверяет диапазоны координат.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("широта %v вне диапазона [-90, 90]", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("долгота %v вне диапазона [-180, 180]", l.Longitude)
	}
	return nil
}

// ScaleE6 переводит градусы в целое число миллионных долей градуса.
// Половина округляется вверх.
func ScaleE6(deg float64) int64 {
	return int64(math.Floor(deg*1e6 + 0.5))
}

// LedgerPayload — аргументы addMedia в целочисленном кодировании.
type LedgerPayload struct {
	FileHash    string
	UnixSeconds int64
	LatitudeE6  int64
	LongitudeE6 int64
	ContentID   string
}

// FileRecord — запись о происхождении файла.
type FileRecord struct {
	fileName        string
	fileHash        string
	location        *Location
	timestamp       time.Time
	ipfsCID         string
	transactionHash string
	sealed          bool
}

// NewFileRecord создаёт пустую запись для выбранного файла.
func NewFileRecord(fileName string) *FileRecord {
	return &FileRecord{fileName: fileName}
}

func (r *FileRecord) FileName() string        { return r.fileName }
func (r *FileRecord) FileHash() string        { return r.fileHash }
func (r *FileRecord) Timestamp() time.Time    { return r.timestamp }
func (r *FileRecord) ContentID() string       { return r.ipfsCID }
func (r *FileRecord) TransactionHash() string { return r.transactionHash }
func (r *FileRecord) Sealed() bool            { return r.sealed }

// Location возвращает копию координат или nil, если геолокация не получена.
func (r *FileRecord) Location() *Location {
	if r.location == nil {
		return nil
	}
	loc := *r.location
	return &loc
}

// Hashed сообщает, что хэш, время и координаты зафиксированы.
func (r *FileRecord) Hashed() bool {
	return r.fileHash != ""
}

// SetProof фиксирует хэш, время захвата и координаты (nil — без геолокации).
// Поля устанавливаются один раз.
func (r *FileRecord) SetProof(fileHash string, ts time.Time, loc *Location) error {
	if r.sealed {
		return ErrRecordSealed
	}
	if r.fileHash != "" {
		return fmt.Errorf("fileHash: %w", ErrFieldImmutable)
	}
	if err := ValidateHash(fileHash); err != nil {
		return err
	}
	if ts.IsZero() {
		return fmt.Errorf("timestamp: время захвата не задано")
	}
	if loc != nil {
		if err := loc.Validate(); err != nil {
			return err
		}
		copied := *loc
		r.location = &copied
	}
	r.fileHash = fileHash
	r.timestamp = ts.UTC()
	return nil
}

// SetContentID фиксирует CID после успешного закрепления файла.
func (r *FileRecord) SetContentID(cid string) error {
	if r.sealed {
		return ErrRecordSealed
	}
	if r.fileHash == "" {
		return fmt.Errorf("ipfsCID до fileHash: %w", ErrOutOfOrder)
	}
	if r.ipfsCID != "" {
		return fmt.Errorf("ipfsCID: %w", ErrFieldImmutable)
	}
	if cid == "" {
		return fmt.Errorf("ipfsCID: пустой идентификатор")
	}
	r.ipfsCID = cid
	return nil
}

// Seal фиксирует хэш транзакции и делает запись неизменяемой.
func (r *FileRecord) Seal(txHash string) error {
	if r.sealed {
		return ErrRecordSealed
	}
	if r.fileHash == "" || r.ipfsCID == "" {
		return fmt.Errorf("transactionHash до fileHash/ipfsCID: %w", ErrOutOfOrder)
	}
	if txHash == "" {
		return fmt.Errorf("transactionHash: пустой идентификатор")
	}
	r.transactionHash = txHash
	r.sealed = true
	return nil
}

// LedgerPayload кодирует запись для addMedia: время в целых секундах,
// координаты в миллионных долях градуса.
func (r *FileRecord) LedgerPayload() (LedgerPayload, error) {
	if r.fileHash == "" || r.ipfsCID == "" {
		return LedgerPayload{}, fmt.Errorf("запись не готова к отправке: %w", ErrOutOfOrder)
	}
	p := LedgerPayload{
		FileHash:    r.fileHash,
		UnixSeconds: r.timestamp.Unix(),
		LatitudeE6:  NoCoordinateE6,
		LongitudeE6: NoCoordinateE6,
		ContentID:   r.ipfsCID,
	}
	if r.location != nil {
		p.LatitudeE6 = ScaleE6(r.location.Latitude)
		p.LongitudeE6 = ScaleE6(r.location.Longitude)
	}
	return p, nil
}

// ValidateHash проверяет формат hex SHA-256.
func ValidateHash(h string) error {
	if len(h) != HashLength {
		return fmt.Errorf("fileHash: ожидалось %d hex-символов, получено %d", HashLength, len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return fmt.Errorf("fileHash: некорректный hex: %w", err)
	}
	return nil
}

// RecordView — представление записи для API.
type RecordView struct {
	FileName        string     `json:"file_name"`
	FileHash        string     `json:"file_hash,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	IPFSCID         string     `json:"ipfs_cid,omitempty"`
	TransactionHash string     `json:"transaction_hash,omitempty"`
	Confirmed       bool       `json:"confirmed"`
}

// View возвращает снимок записи.
func (r *FileRecord) View() RecordView {
	v := RecordView{
		FileName:        r.fileName,
		FileHash:        r.fileHash,
		IPFSCID:         r.ipfsCID,
		TransactionHash: r.transactionHash,
		Confirmed:       r.sealed,
	}
	if !r.timestamp.IsZero() {
		ts := r.timestamp
		v.Timestamp = &ts
	}
	if r.location != nil {
		lat, lon := r.location.Latitude, r.location.Longitude
		v.Latitude = &lat
		v.Longitude = &lon
	}
	return v
}
