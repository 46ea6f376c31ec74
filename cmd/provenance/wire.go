package main

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bigkaa/provenance/internal/config"
	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/model"
	"github.com/bigkaa/provenance/internal/geo"
	"github.com/bigkaa/provenance/internal/ledger"
	"github.com/bigkaa/provenance/internal/service"
	"github.com/bigkaa/provenance/internal/storage/journal"
	"github.com/bigkaa/provenance/internal/storage/pinning"
	"github.com/bigkaa/provenance/internal/storage/spool"
	"github.com/bigkaa/provenance/internal/wallet"
)

// core — компоненты, общие для serve и anchor.
type core struct {
	eth      *ethclient.Client
	keystore *wallet.Keystore
	uploader pinning.Uploader
	geo      geo.Source
	spool    *spool.Spool
	journal  *journal.Journal
	deps     service.PipelineDeps
}

// buildCore подключается к узлу реестра и собирает зависимости конвейера.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	eth, err := ethclient.DialContext(ctx, cfg.LedgerRPCURL)
	if err != nil {
		return nil, failure.Wrap(failure.KindNetwork, err, "подключение к %s", cfg.LedgerRPCURL)
	}

	c, err := assemble(ctx, cfg, eth, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

func assemble(ctx context.Context, cfg *config.Config, eth *ethclient.Client, logger *slog.Logger) (*core, error) {
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		id, err := eth.ChainID(ctx)
		if err != nil {
			return nil, failure.Wrap(failure.KindNetwork, err, "запрос идентификатора сети")
		}
		chainID = id
	}

	if err := wallet.CheckContract(ctx, eth, cfg.ContractAddress); err != nil {
		return nil, err
	}

	ks, err := wallet.NewKeystore(cfg.KeystoreDir, chainID, cfg.WalletAddress, cfg.ContractAddress, eth, logger)
	if err != nil {
		return nil, err
	}

	submitter, err := ledger.NewSubmitter(eth, cfg.ContractAddress, cfg.ConfirmTimeout, logger)
	if err != nil {
		return nil, err
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sp, err := spool.New(cfg.SpoolDir, cfg.MaxFileSize)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, err, "спул")
	}
	j, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, err, "журнал")
	}

	logger.Info("Реестр подключён",
		slog.String("rpc", cfg.LedgerRPCURL),
		slog.String("chain_id", chainID.String()),
		slog.String("contract", cfg.ContractAddress.Hex()),
		slog.String("storage_backend", uploader.Backend()),
		slog.String("geo_source", cfg.GeoSource),
	)

	return &core{
		eth:      eth,
		keystore: ks,
		uploader: uploader,
		geo:      newGeoSource(cfg),
		spool:    sp,
		journal:  j,
		deps: service.PipelineDeps{
			Hasher:        service.NewHasher(),
			Tagger:        geo.NewTagger(cfg.GeoTimeout),
			Uploader:      uploader,
			Ledger:        service.NewLedgerSubmitter(submitter),
			Spool:         sp,
			Journal:       j,
			UploadTimeout: cfg.UploadTimeout,
			StageTimeout:  cfg.StageTimeout,
			Logger:        logger,
		},
	}, nil
}

// Close закрывает соединение с узлом.
func (c *core) Close() {
	c.eth.Close()
}

// newUploader выбирает бэкенд закрепления. Таймаут загрузки задаёт
// контекст стадии, поэтому у HTTP-клиента своего таймаута нет.
func newUploader(ctx context.Context, cfg *config.Config) (pinning.Uploader, error) {
	switch cfg.StorageBackend {
	case config.StoragePinata:
		return pinning.NewPinata(cfg.PinataAPIURL, cfg.PinataAPIKey, cfg.PinataSecretAPIKey, &http.Client{}), nil
	case config.StorageKubo:
		return pinning.NewKubo(cfg.KuboAPIURL, &http.Client{}), nil
	case config.StorageFilebase:
		return pinning.NewFilebase(ctx, pinning.FilebaseConfig{
			Endpoint:  cfg.FilebaseEndpoint,
			Region:    cfg.FilebaseRegion,
			Bucket:    cfg.FilebaseBucket,
			AccessKey: cfg.FilebaseAccessKey,
			SecretKey: cfg.FilebaseSecretKey,
		})
	default:
		return nil, failure.New(failure.KindConfiguration, "неизвестный бэкенд закрепления %q", cfg.StorageBackend)
	}
}

// newGeoSource выбирает источник координат.
func newGeoSource(cfg *config.Config) geo.Source {
	switch cfg.GeoSource {
	case config.GeoStatic:
		return geo.StaticSource{Location: model.Location{Latitude: cfg.GeoStaticLat, Longitude: cfg.GeoStaticLon}}
	case config.GeoIPAPI:
		return geo.NewIPAPISource(cfg.GeoIPAPIURL, &http.Client{Timeout: cfg.HTTPClientTimeout})
	default:
		return geo.ClientSource{}
	}
}
