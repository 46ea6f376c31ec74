package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/bigkaa/provenance/internal/api/handlers"
	"github.com/bigkaa/provenance/internal/api/middleware"
	"github.com/bigkaa/provenance/internal/api/openapi"
	"github.com/bigkaa/provenance/internal/config"
	"github.com/bigkaa/provenance/internal/server"
	"github.com/bigkaa/provenance/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-агент",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := config.SetupLogger(cfg)
	logger.Info("provenance-agent запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("auth", cfg.AuthEnabled()),
	)

	// --- Инициализация компонентов ---

	// 1. Реестр, кошелёк, закрепление, спул, журнал
	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	// 2. Восстановление: незавершённые операции только сообщаются
	if pending, err := c.journal.RecoverPending(); err != nil {
		logger.Error("Ошибка чтения журнала", slog.String("error", err.Error()))
	} else if len(pending) > 0 {
		logger.Warn("Обнаружены незавершённые операции", slog.Int("count", len(pending)))
	}
	// Файлы сессий прошлого запуска не нужны: сессии живут в памяти
	if swept, err := c.spool.Sweep(0, nil); err != nil {
		logger.Warn("Ошибка очистки спула", slog.String("error", err.Error()))
	} else if swept > 0 {
		logger.Info("Спул очищен", slog.Int("removed", swept))
	}

	// 3. Сессии
	registry := service.NewRegistry(cfg.MaxSessions, cfg.SessionTTL, func(id string) *service.Session {
		return service.NewSession(id, c.keystore, c.deps)
	}, logger)
	defer registry.Close()

	go c.keystore.Watch(ctx, func(addr common.Address) {
		n := registry.RevokeAddress(addr, "ключ удалён из keystore")
		logger.Warn("Подписант отозван", slog.String("address", addr.Hex()), slog.Int("sessions", n))
	})

	// 4. Фоновые процессы
	orphans := service.NewOrphanService(c.journal, c.spool, cfg.OrphanScanInterval, cfg.JournalRetention, registry.LiveBlobs, logger)
	orphans.Start(ctx)
	defer orphans.Stop()

	var depChecker handlers.DependencyChecker
	dephealthSvc, err := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		service.AgentTargets(cfg.LedgerRPCURL, c.uploader.Endpoint()),
		cfg.DephealthCheckInterval,
		cfg.TLSSkipVerify,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		depChecker = dephealthSvc
	}

	// 5. HTTP
	auth, closeAuth, err := newAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	doc, err := openapi.Load(ctx)
	if err != nil {
		return err
	}

	srv := server.New(cfg, logger, server.Routes{
		API:       handlers.NewAPIHandler(registry, c.geo, logger),
		Health:    handlers.NewHealthHandler(c.spool, c.journal, depChecker),
		Auth:      auth,
		Validator: openapi.NewValidator(doc, logger).Middleware(),
	})

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// newAuth возвращает JWT middleware или, без PV_JWKS_URL, единую локальную сессию.
func newAuth(cfg *config.Config, logger *slog.Logger) (server.Middleware, func(), error) {
	if !cfg.AuthEnabled() {
		logger.Warn("PV_JWKS_URL не задан, запуск без аутентификации",
			slog.String("session", middleware.LocalSession),
		)
		return middleware.LocalAuth(), func() {}, nil
	}

	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.CACertPath,
		TLSSkipVerify:   cfg.TLSSkipVerify,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
		Audience:        cfg.JWTAudience,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	return jwtAuth.Middleware(), jwtAuth.Close, nil
}
