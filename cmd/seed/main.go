// Package main provides a CLI tool for seeding the catalog tables with
// development data: warehouses, kunchinittus, and outturns.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"milledger/internal/core/id"
	"milledger/internal/infrastructure/config"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.DSN))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	warehouses, err := seedWarehouses(ctx, pool)
	if err != nil {
		log.Fatalw("failed to seed warehouses", "error", err)
	}
	log.Infow("seeded warehouses", "count", warehouses)

	kunchinittus, err := seedKunchinittus(ctx, pool)
	if err != nil {
		log.Fatalw("failed to seed kunchinittus", "error", err)
	}
	log.Infow("seeded kunchinittus", "count", kunchinittus)

	outturns, err := seedOutturns(ctx, pool)
	if err != nil {
		log.Fatalw("failed to seed outturns", "error", err)
	}
	log.Infow("seeded outturns", "count", outturns)

	log.Info("seeding complete")
}

// seedWarehouses inserts the demo warehouses. Idempotent on code.
func seedWarehouses(ctx context.Context, pool *postgres.Pool) (int, error) {
	warehouses := []struct {
		code string
		name string
	}{
		{"WH-MAIN", "Main Godown"},
		{"WH-NORTH", "North Godown"},
	}

	count := 0
	for _, w := range warehouses {
		tag, err := pool.Exec(ctx, `
			INSERT INTO cat_warehouses (id, code, name, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO NOTHING
		`, id.New(), w.code, w.name, time.Now().UTC())
		if err != nil {
			return count, fmt.Errorf("insert warehouse %s: %w", w.code, err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

// seedKunchinittus inserts demo yard sub-locations, some with a variety
// allotment to exercise the validator.
func seedKunchinittus(ctx context.Context, pool *postgres.Pool) (int, error) {
	kunchinittus := []struct {
		code     string
		name     string
		allotted string
	}{
		{"KN-01", "Kunchinittu 1", "IR64"},
		{"KN-02", "Kunchinittu 2", "SONA MASOORI"},
		{"KN-03", "Kunchinittu 3", ""},
		{"KN-04", "Kunchinittu 4", ""},
	}

	count := 0
	for _, k := range kunchinittus {
		tag, err := pool.Exec(ctx, `
			INSERT INTO cat_kunchinittus (id, code, name, allotted_variety, avg_rate, created_at)
			VALUES ($1, $2, $3, $4, 0, $5)
			ON CONFLICT (code) DO NOTHING
		`, id.New(), k.code, k.name, k.allotted, time.Now().UTC())
		if err != nil {
			return count, fmt.Errorf("insert kunchinittu %s: %w", k.code, err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

// seedOutturns inserts demo production outturns, one already cleared.
func seedOutturns(ctx context.Context, pool *postgres.Pool) (int, error) {
	cleared := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	outturns := []struct {
		code      string
		allotted  string
		clearedAt *time.Time
	}{
		{"OT-2026-001", "IR64", &cleared},
		{"OT-2026-002", "IR64", nil},
		{"OT-2026-003", "SONA MASOORI", nil},
	}

	count := 0
	for _, o := range outturns {
		tag, err := pool.Exec(ctx, `
			INSERT INTO cat_outturns (id, code, allotted_variety, avg_rate, cleared_at, created_at)
			VALUES ($1, $2, $3, 0, $4, $5)
			ON CONFLICT (code) DO NOTHING
		`, id.New(), o.code, o.allotted, o.clearedAt, time.Now().UTC())
		if err != nil {
			return count, fmt.Errorf("insert outturn %s: %w", o.code, err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}
