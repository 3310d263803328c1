package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup happens before exit.
func run(args []string) int {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("DATABASE_URL is required")
		return 2
	}

	dir := "migrations"
	listOnly := false
	for _, a := range args {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("connect: %v", err)
		return 1
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("ping: %v", err)
		return 1
	}
	log.Println("Connected to database")

	m := &migrator{db: db, dir: dir, out: os.Stdout}
	if listOnly {
		if err := m.List(ctx); err != nil {
			log.Printf("list: %v", err)
			return 1
		}
		return 0
	}

	n, err := m.Up(ctx)
	if err != nil {
		log.Printf("Migration failed after %d applied: %v", n, err)
		return 1
	}
	log.Printf("Migrations complete: %d applied", n)
	return 0
}
