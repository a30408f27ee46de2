package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/database"
	"github.com/xelth-com/odoopricesync/internal/models"
)

type demoProduct struct {
	SKU    string
	Name   string
	Cost   string
	Markup string
}

var demoProducts = []demoProduct{
	{"SKU-1001", "Eco Water Bottle", "4.50", "120"},
	{"SKU-1002", "Adventure Backpack", "28.25", "70"},
	{"SKU-1003", "Wireless Earbuds", "18.90", "95"},
	{"SKU-1004", "Travel Mug", "6.10", "110"},
	{"SKU-1005", "Desk Lamp", "11.75", "80"},
	{"SKU-1006", "Yoga Mat", "9.40", "90"},
	{"SKU-1007", "Smart Notebook", "14.60", "85"},
	{"SKU-1008", "Portable Charger", "12.30", "100"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogger(cfg.Log)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// seeding never pushes, the operator triggers the first sync
	store := catalog.NewStore(db.DB, nil, cfg.Odoo.Currency)
	ctx := context.Background()

	created, updated := 0, 0
	for _, d := range demoProducts {
		p, err := store.FindBySKU(ctx, d.SKU)
		switch {
		case errors.Is(err, catalog.ErrProductNotFound):
			p = &models.Product{SKU: d.SKU}
			created++
		case err != nil:
			log.Fatal().Err(err).Str("sku", d.SKU).Msg("lookup failed")
		default:
			updated++
		}

		p.Name = d.Name
		p.CostPrice = decimal.RequireFromString(d.Cost)
		p.MarkupPercent = decimal.RequireFromString(d.Markup)
		// the stored sale is left alone so Save derives it from cost and markup

		if err := store.Save(ctx, p, catalog.WithoutSync()); err != nil {
			log.Fatal().Err(err).Str("sku", d.SKU).Msg("save failed")
		}
		fmt.Printf("  %-9s %-20s cost %8s  markup %5s%%  sale %8s %s\n",
			p.SKU, p.Name, p.CostPrice.StringFixed(2), p.MarkupPercent.StringFixed(2), p.SalePrice.StringFixed(2), p.Currency)
	}

	log.Info().Int("created", created).Int("updated", updated).Msg("demo catalog seeded")
}
