package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/askdb/askdb/internal/config"
	historypostgres "github.com/askdb/askdb/internal/history/postgres"
	"github.com/askdb/askdb/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "up applies pending history revisions, down reverts, status lists them")
	steps := flag.Int("steps", 1, "number of revisions to revert with -direction down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("askdb-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.History.DSN == "" {
		fmt.Fprintln(os.Stderr, "ASKDB_HISTORY_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{DSN: cfg.History.DSN})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	schema, err := migrations.ForHistory(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load history revisions: %v\n", err)
		os.Exit(1)
	}
	switch *direction {
	case "up":
		applied, err := schema.Migrate(ctx)
		for _, rev := range applied {
			fmt.Printf("applied %06d %s\n", rev.Number, rev.Name)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate history schema: %v\n", err)
			os.Exit(1)
		}
		if len(applied) == 0 {
			fmt.Println("history schema is up to date")
		}
	case "down":
		reverted, err := schema.Revert(ctx, *steps)
		for _, rev := range reverted {
			fmt.Printf("reverted %06d %s\n", rev.Number, rev.Name)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "revert history schema: %v\n", err)
			os.Exit(1)
		}
	case "status":
		revisions, err := schema.Revisions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list history revisions: %v\n", err)
			os.Exit(1)
		}
		for _, rev := range revisions {
			state := "pending"
			if rev.Applied {
				state = "applied " + rev.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%06d %-40s %s\n", rev.Number, rev.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
