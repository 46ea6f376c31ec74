// Пакет openapi — встроенный OpenAPI 3 документ агента и middleware
// проверки входящих запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/provenance/internal/api/errors"
)

//go:embed openapi.json
var document []byte

// Document возвращает сырой JSON документа.
func Document() []byte {
	return document
}

// Load разбирает и валидирует встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI документа: %w", err)
	}
	return doc, nil
}

// Validator проверяет запросы по OpenAPI документу.
// Маршрут определяется шаблоном chi, поэтому middleware должен
// подключаться внутри chi.Router.Group (после маршрутизации).
type Validator struct {
	doc    *openapi3.T
	logger *slog.Logger
}

// NewValidator создаёт Validator.
func NewValidator(doc *openapi3.T, logger *slog.Logger) *Validator {
	return &Validator{
		doc:    doc,
		logger: logger.With(slog.String("component", "openapi")),
	}
}

// Middleware возвращает HTTP middleware проверки запроса.
// Тело multipart не проверяется: оно потоково пишется в спул.
// Операции, отсутствующие в документе, пропускаются без проверки.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, params := v.route(r)
			if route == nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					ExcludeRequestBody: strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/"),
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл проверку",
					slog.String("path", route.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, err.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// route строит маршрут kin-openapi по шаблону chi.
func (v *Validator) route(r *http.Request) (*routers.Route, map[string]string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil, nil
	}
	pattern := rctx.RoutePattern()
	item := v.doc.Paths.Find(pattern)
	if item == nil {
		return nil, nil
	}
	op := item.GetOperation(r.Method)
	if op == nil {
		return nil, nil
	}

	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		params[key] = rctx.URLParams.Values[i]
	}

	return &routers.Route{
		Spec:      v.doc,
		Path:      pattern,
		PathItem:  item,
		Method:    r.Method,
		Operation: op,
	}, params
}
