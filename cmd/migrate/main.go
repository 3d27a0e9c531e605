package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/samirrijal/saferoute/internal/adapters/memory"
	natsadapter "github.com/samirrijal/saferoute/internal/adapters/nats"
	"github.com/samirrijal/saferoute/internal/adapters/postgres"
	"github.com/samirrijal/saferoute/internal/adapters/sqlite"
	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|seed FILE>")
	}

	_ = godotenv.Load()

	cfg, err := config.Load("saferoute-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "up":
		if err := up(ctx, cfg); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Println("all migrations applied")
	case "seed":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate seed FILE")
		}
		if err := seed(ctx, cfg, os.Args[2]); err != nil {
			log.Fatalf("seed: %v", err)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func up(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.Database.DSN(), postgres.Options{MaxConns: 2})
		if err != nil {
			return err
		}
		defer db.Close()

		files := []string{
			"migrations/001_incidents.sql",
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", f, err)
			}
			if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
				return fmt.Errorf("exec %s: %w", f, err)
			}
			fmt.Printf("OK  %s\n", f)
		}
		return nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		fmt.Printf("OK  %s\n", cfg.Store.SQLitePath)
		return nil
	}
	return fmt.Errorf("store driver %q has no schema", cfg.Store.Driver)
}

// seed loads a JSON array of incidents into the configured store and, when
// NATS is enabled, announces the update so running API instances drop
// their cached classifications.
func seed(ctx context.Context, cfg *config.Config, path string) error {
	incidents, err := memory.ReadSeed(path)
	if err != nil {
		return err
	}

	var inserted int64
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.Database.DSN(), postgres.Options{MaxConns: 2})
		if err != nil {
			return err
		}
		defer db.Close()
		inserted, err = postgres.NewIncidentRepo(db).InsertBatch(ctx, incidents)
		if err != nil {
			return err
		}

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		inserted, err = s.Insert(ctx, incidents...)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("store driver %q cannot be seeded", cfg.Store.Driver)
	}
	log.Printf("inserted %d of %d incidents", inserted, len(incidents))

	if !cfg.NATS.Enabled || inserted == 0 {
		return nil
	}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.PublishIncidentUpdate(ctx, domain.IncidentUpdate{
		Source:   "seed",
		Inserted: int(inserted),
		At:       time.Now().Unix(),
	})
}
