package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"awarerisk.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("AWARERISK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AWARERISK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, dirOr(*migrationsPath, migrate.Migrations()), dirOr(*seedsPath, migrate.Seeds()))

	var n int
	switch flag.Arg(0) {
	case "up":
		if n, err = mgr.Up(ctx); err == nil {
			fmt.Printf("applied %d migration(s)\n", n)
		}
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		if n, err = mgr.Seed(ctx); err == nil {
			fmt.Printf("applied %d seed file(s)\n", n)
		}
	case "status":
		var status []migrate.Migration
		if status, err = mgr.Status(ctx); err == nil {
			for _, mig := range status {
				fmt.Println(mig)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func dirOr(path string, embedded fs.FS) fs.FS {
	if path == "" {
		return embedded
	}
	return os.DirFS(path)
}
