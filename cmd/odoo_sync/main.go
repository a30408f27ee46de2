// Command odoo_sync runs one push or pull against Odoo from the shell.
//
//	odoo_sync push -id 12
//	odoo_sync push -all -status failed
//	odoo_sync pull -skus "SKU-1001, SKU-1002" -since 2024-01-01
//	odoo_sync token -sub ops -ttl 24h
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/database"
	"github.com/xelth-com/odoopricesync/internal/models"
	"github.com/xelth-com/odoopricesync/internal/services/odoo"
	"github.com/xelth-com/odoopricesync/internal/utils"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: odoo_sync <push|pull|token> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.SetupLogger(cfg.Log)

	switch os.Args[1] {
	case "push":
		runPush(cfg, os.Args[2:])
	case "pull":
		runPull(cfg, os.Args[2:])
	case "token":
		runToken(cfg, os.Args[2:])
	default:
		usage()
	}
}

type env struct {
	db  *database.DB
	svc *odoo.SyncService
}

// setup wires the service without a queue: pushes run in the foreground
func setup(cfg *config.Config) *env {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	store := catalog.NewStore(db.DB, nil, cfg.Odoo.Currency)
	client, err := odoo.NewSyncClient(cfg.Odoo, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create odoo client")
	}
	return &env{db: db, svc: odoo.NewSyncService(client, store, audit.NewRecorder(db.DB))}
}

func runPush(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	id := fs.Uint("id", 0, "product id to push")
	all := fs.Bool("all", false, "push every product")
	status := fs.String("status", "", "with -all, only products in this sync status")
	_ = fs.Parse(args)

	if *id == 0 && !*all {
		fmt.Fprintln(os.Stderr, "push needs -id or -all")
		os.Exit(2)
	}

	e := setup(cfg)
	defer e.db.Close()
	ctx := context.Background()

	if *id != 0 {
		resp, err := e.svc.PushByID(ctx, *id)
		if err != nil {
			log.Fatal().Err(err).Uint("product_id", *id).Msg("push failed")
		}
		printJSON(resp)
		if resp == nil || !resp.OK {
			os.Exit(1)
		}
		return
	}

	summary, err := e.svc.PushAll(ctx, catalog.ProductFilter{Status: models.SyncStatus(*status)})
	if err != nil {
		log.Fatal().Err(err).Msg("push failed")
	}
	printJSON(summary)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func runPull(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	skus := fs.String("skus", "", "comma or space separated SKUs")
	since := fs.String("since", "", "only records written after this date (2006-01-02 or RFC3339)")
	limit := fs.Int("limit", 0, "maximum records to fetch")
	_ = fs.Parse(args)

	filters := odoo.FetchFilters{SKUs: odoo.ParseSKUs(*skus)}
	if *since != "" {
		t, err := parseSince(*since)
		if err != nil {
			log.Fatal().Err(err).Str("since", *since).Msg("invalid -since")
		}
		filters.UpdatedAfter = &t
	}

	e := setup(cfg)
	defer e.db.Close()

	summary, err := e.svc.Pull(context.Background(), filters, odoo.FetchOptions{Limit: *limit})
	if err != nil {
		log.Fatal().Err(err).Msg("pull failed")
	}
	printJSON(summary)
	if len(summary.Errors) > 0 {
		os.Exit(1)
	}
}

func runToken(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	sub := fs.String("sub", "operator", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}
	token, err := utils.GenerateToken(*sub, cfg.JWTSecret, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
