package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"utilitysign/internal/bankid"
	"utilitysign/internal/catalog"
	"utilitysign/internal/config"
	"utilitysign/internal/preview"
	"utilitysign/internal/signing"
	"utilitysign/internal/signing/dummy"
	"utilitysign/internal/storage"

	"go.uber.org/zap"
)

// core holds the collaborators shared by every workflow
type core struct {
	api      signing.API
	client   *signing.Client
	products *catalog.Catalog
	docs     *storage.Documents
	renderer *preview.Renderer
	poller   bankid.PollerConfig
	// files serves local storage, nil for S3
	files http.Handler
}

func buildCore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*core, error) {
	var api signing.API
	switch cfg.Signing.Provider {
	case config.ProviderHTTP:
		api = signing.NewHTTPAPI(signing.HTTPConfig{
			BaseURL:  cfg.Signing.BaseURL,
			APIKey:   cfg.Signing.APIKey,
			Timeout:  cfg.Signing.Timeout.Duration,
			RetryMax: cfg.Signing.RetryMax,
		}, log)
	default:
		log.Warn("Using the dummy signing provider")
		api = dummy.New(dummy.Config{
			RequestTTL: cfg.Signing.RequestTTL.Duration,
			EmbedURL:   cfg.Signing.EmbedURL,
		})
	}
	client := signing.NewClient(api, log)

	var store storage.Storage
	var files http.Handler
	switch cfg.Storage.Backend {
	case config.StorageS3:
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		local, err := storage.NewLocalStorage(cfg.Storage.BaseDir, cfg.Storage.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		store = local
		files = local.Handler()
	}

	template := ""
	if cfg.Preview.TemplatePath != "" {
		b, err := os.ReadFile(cfg.Preview.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read preview template: %w", err)
		}
		template = string(b)
	}
	renderer, err := preview.NewRenderer(template)
	if err != nil {
		return nil, err
	}

	return &core{
		api:    api,
		client: client,
		products: catalog.New(client, catalog.Options{
			Size:             cfg.Catalog.Size,
			TTL:              cfg.Catalog.TTL.Duration,
			BusinessProducts: cfg.Catalog.BusinessProducts,
			SportsProduct:    cfg.Catalog.SportsProduct,
		}),
		docs:     storage.NewDocuments(store, cfg.Storage.Policy),
		renderer: renderer,
		files:    files,
		poller: bankid.PollerConfig{
			Interval:           cfg.BankID.PollInterval.Duration,
			CloseCheckInterval: cfg.BankID.CloseCheckInterval.Duration,
			HardTimeout:        cfg.BankID.HardTimeout.Duration,
		},
	}, nil
}
