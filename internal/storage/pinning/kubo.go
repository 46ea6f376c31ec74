package pinning

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Kubo — закрепление через HTTP RPC узла IPFS (Kubo) /api/v0/add.
type Kubo struct {
	baseURL string
	client  *http.Client
}

// NewKubo создаёт клиент Kubo.
func NewKubo(baseURL string, client *http.Client) *Kubo {
	if client == nil {
		client = http.DefaultClient
	}
	return &Kubo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// kuboAddResponse — строка NDJSON-ответа /api/v0/add.
type kuboAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Backend реализует Uploader.
func (k *Kubo) Backend() string { return "kubo" }

// Endpoint реализует Uploader.
func (k *Kubo) Endpoint() string { return k.baseURL }

// Pin реализует Uploader.
func (k *Kubo) Pin(ctx context.Context, r Request) (string, error) {
	body, contentType := multipartBody("file", r.Name, r.Content, nil)
	defer body.Close()

	url := k.baseURL + "/api/v0/add?pin=true&cid-version=1&progress=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("ошибка формирования запроса: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := k.client.Do(req)
	if err != nil {
		return "", transportError(k.Backend(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(k.Backend(), resp)
	}

	// Для одного файла ответ — одна строка; берём последнюю непустую
	var last kuboAddResponse
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &last); err != nil {
			return "", transportError(k.Backend(), fmt.Errorf("некорректный ответ: %w", err))
		}
	}
	if err := sc.Err(); err != nil {
		return "", transportError(k.Backend(), err)
	}
	return ValidateCID(last.Hash)
}
