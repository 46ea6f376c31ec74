package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bigkaa/provenance/internal/domain/model"
)

// IPAPISource — приблизительные координаты по IP-адресу агента (ip-api.com).
type IPAPISource struct {
	url    string
	client *http.Client
}

// NewIPAPISource создаёт источник ip-api.
func NewIPAPISource(url string, client *http.Client) *IPAPISource {
	if client == nil {
		client = http.DefaultClient
	}
	return &IPAPISource{url: url, client: client}
}

// ipAPIResponse — ответ ip-api.com/json.
type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Locator реализует Source.
func (s *IPAPISource) Locator(_ *model.Location, denied bool) Locator {
	if denied {
		return Denied
	}
	return LocatorFunc(s.locate)
}

func (s *IPAPISource) locate(ctx context.Context) (model.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return model.Location{}, fmt.Errorf("ошибка формирования запроса: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Location{}, fmt.Errorf("ip-api недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Location{}, fmt.Errorf("ip-api вернул %d: %w", resp.StatusCode, ErrNoFix)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Location{}, fmt.Errorf("некорректный ответ ip-api: %w", err)
	}
	if body.Status != "success" {
		return model.Location{}, fmt.Errorf("ip-api: %s: %w", body.Message, ErrNoFix)
	}
	return model.Location{Latitude: body.Lat, Longitude: body.Lon}, nil
}
