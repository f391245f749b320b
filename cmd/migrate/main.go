package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gatekeepr.org/internal/config"
	"gatekeepr.org/internal/migrate"
	"gatekeepr.org/internal/obs"
	"gatekeepr.org/internal/store"
)

func main() {
	defaults, err := config.Load()
	if err != nil {
		// Load also validates the JWT secret, which migrations do not need.
		defaults = config.Config{DBDriver: os.Getenv("GATEKEEPR_DB_DRIVER"), DBDSN: os.Getenv("GATEKEEPR_DB_DSN")}
	}
	var (
		driver = flag.String("driver", defaults.DBDriver, "database driver: postgres or sqlite")
		dsn    = flag.String("dsn", defaults.DBDSN, "database DSN")
	)
	flag.Parse()

	if *dsn == "" || *driver == "" {
		fatal("missing database: provide -driver and -dsn or GATEKEEPR_DB_DRIVER and GATEKEEPR_DB_DSN")
	}
	if len(flag.Args()) == 0 {
		fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := store.Open(ctx, *driver, *dsn)
	if err != nil {
		fatal(err.Error())
	}
	defer s.Close()

	mgr := s.Migrator()
	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var states []migrate.State
		states, err = mgr.Status(ctx)
		for _, st := range states {
			fmt.Println(st)
		}
	default:
		fatal(fmt.Sprintf("unknown command %q", flag.Arg(0)))
	}
	if err != nil {
		fatal(fmt.Sprintf("migrate %s: %v", flag.Arg(0), err))
	}
	obs.Info(ctx, "migrate_done", "command", flag.Arg(0), "driver", *driver)
}

func fatal(msg string) {
	obs.Error(context.Background(), "migrate_failed", "error", msg)
	os.Exit(1)
}
