package pinning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Pinata — закрепление через Pinata pinFileToIPFS.
type Pinata struct {
	baseURL   string
	apiKey    string
	secretKey string
	client    *http.Client
}

// NewPinata создаёт клиент Pinata.
func NewPinata(baseURL, apiKey, secretKey string, client *http.Client) *Pinata {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pinata{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    client,
	}
}

// pinataResponse — ответ pinFileToIPFS.
type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Backend реализует Uploader.
func (p *Pinata) Backend() string { return "pinata" }

// Endpoint реализует Uploader.
func (p *Pinata) Endpoint() string { return p.baseURL }

// Pin реализует Uploader.
func (p *Pinata) Pin(ctx context.Context, r Request) (string, error) {
	meta, _ := json.Marshal(map[string]any{
		"name":      r.Name,
		"keyvalues": map[string]string{"sha256": r.FileHash},
	})
	body, contentType := multipartBody("file", r.Name, r.Content, map[string]string{
		"pinataMetadata": string(meta),
	})
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", fmt.Errorf("ошибка формирования запроса: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("pinata_api_key", p.apiKey)
	req.Header.Set("pinata_secret_api_key", p.secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", transportError(p.Backend(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(p.Backend(), resp)
	}

	var out pinataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", transportError(p.Backend(), fmt.Errorf("некорректный ответ: %w", err))
	}
	return ValidateCID(out.IpfsHash)
}
