package odoo

import (
	"github.com/rs/zerolog/log"
	"github.com/xelth-com/odoopricesync/internal/config"
)

// NewSyncClient picks the simulated or the remote client from cfg
func NewSyncClient(cfg config.OdooConfig, reader CatalogReader) (SyncClient, error) {
	if cfg.Simulate {
		log.Info().Float64("failure_rate", cfg.FailureRate).Msg("odoo client: simulated")
		return NewSimulatedClient(reader, cfg.Currency,
			WithFailureRate(cfg.FailureRate),
			WithDelay(cfg.MinDelay, cfg.MaxDelay),
		), nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", cfg.URL).Str("db", cfg.Database).Msg("odoo client: xml-rpc")
	return client, nil
}
