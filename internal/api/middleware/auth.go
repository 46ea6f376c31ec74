// auth.go — аутентификация клиентов агента.
// Клиент предъявляет JWT (RS256, ключи из JWKS). Claim sub выбирает сессию
// клиента: у каждой сессии свой кошелёк и свой конвейер. Необязательный
// claim wallet привязывает сессию к одному адресу подписи.
// Публичные endpoints (health, metrics, openapi.json) — без аутентификации.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/provenance/internal/api/errors"
)

// LocalSession — сессия всех запросов при отключённой аутентификации.
const LocalSession = "local"

// maxSessionLength — ограничение длины sub: идентификатор сессии попадает
// в журнал операций и логи.
const maxSessionLength = 128

// Client — аутентифицированный клиент агента.
type Client struct {
	// Session — идентификатор сессии (claim sub)
	Session string
	// Wallet — адрес, которым клиенту разрешено подписывать; нулевой — любой
	Wallet common.Address
}

// Bound сообщает, привязан ли клиент к адресу подписи.
func (c Client) Bound() bool {
	return c.Wallet != (common.Address{})
}

// Claims — claims токена клиента.
type Claims struct {
	jwt.RegisteredClaims
	// Wallet — адрес подписи, к которому привязан клиент
	Wallet string `json:"wallet,omitempty"`
}

// client проверяет прикладные claims и строит клиента.
func (c *Claims) client() (Client, error) {
	switch {
	case c.Subject == "":
		return Client{}, errors.New("отсутствует sub")
	case len(c.Subject) > maxSessionLength:
		return Client{}, fmt.Errorf("sub длиннее %d символов", maxSessionLength)
	}

	cl := Client{Session: c.Subject}
	if c.Wallet != "" {
		if !common.IsHexAddress(c.Wallet) {
			return Client{}, fmt.Errorf("claim wallet %q не является адресом", c.Wallet)
		}
		cl.Wallet = common.HexToAddress(c.Wallet)
	}
	return cl, nil
}

// JWTAuth — middleware аутентификации клиентов по JWKS.
type JWTAuth struct {
	keys   keyfunc.Keyfunc
	parser *jwt.Parser
	stop   context.CancelFunc
	logger *slog.Logger
}

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Путь к CA-сертификату (опционально)
	CACertPath string
	// Пропускать проверку TLS-сертификатов
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Audience — обязательный aud токена; пустой — не проверяется
	Audience string
}

// NewJWTAuth создаёт middleware с ключами из JWKS endpoint.
// Фоновое обновление ключей останавливается в Close.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient, err := newJWKSClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CACertPath != "" {
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// NoErrorReturnFirstHTTPReq: агент стартует, даже если JWKS ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return newJWTAuth(k, cfg, cancel, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc (статический
// набор ключей). Из cfg используются только JWTLeeway и Audience.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, cfg JWTAuthConfig, logger *slog.Logger) *JWTAuth {
	return newJWTAuth(kf, cfg, nil, logger)
}

func newJWTAuth(kf keyfunc.Keyfunc, cfg JWTAuthConfig, stop context.CancelFunc, logger *slog.Logger) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.JWTLeeway),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuth{
		keys:   kf,
		parser: jwt.NewParser(opts...),
		stop:   stop,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// newJWKSClient создаёт HTTP-клиент JWKS с настроенным TLS и таймаутом.
func newJWKSClient(cfg JWTAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // PV_TLS_SKIP_VERIFY
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-сертификатов", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Timeout: cfg.ClientTimeout, Transport: transport}, nil
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("отсутствует заголовок Authorization")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("неверный формат Authorization: ожидается Bearer <token>")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("пустой Bearer token")
	}
	return token, nil
}

// authenticate проверяет подпись и сроки токена и возвращает клиента.
func (j *JWTAuth) authenticate(ctx context.Context, raw string) (Client, error) {
	claims := &Claims{}
	if _, err := j.parser.ParseWithClaims(raw, claims, j.keys.KeyfuncCtx(ctx)); err != nil {
		return Client{}, err
	}
	return claims.client()
}

// Middleware возвращает HTTP middleware: запрос без валидного токена
// получает 401, иначе клиент помещается в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			client, err := j.authenticate(r.Context(), raw)
			if err != nil {
				j.logger.Debug("Клиент не аутентифицирован",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен клиента")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

// Close останавливает фоновое обновление JWKS.
func (j *JWTAuth) Close() {
	if j.stop != nil {
		j.stop()
	}
}

// LocalAuth возвращает middleware для режима без JWKS: все запросы
// принадлежат сессии LocalSession без привязки к адресу.
func LocalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), Client{Session: LocalSession})))
		})
	}
}

type (
	clientKey struct{}
	holderKey struct{}
)

// ClientFromContext возвращает клиента, помещённого в контекст аутентификацией.
func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey{}).(Client)
	return c, ok
}

// clientHolder передаёт клиента наверх, в RequestLogger.
type clientHolder struct {
	client Client
}

func withClientHolder(ctx context.Context, h *clientHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// WithClient помещает клиента в контекст запроса.
func WithClient(ctx context.Context, c Client) context.Context {
	if h, ok := ctx.Value(holderKey{}).(*clientHolder); ok {
		h.client = c
	}
	return context.WithValue(ctx, clientKey{}, c)
}
