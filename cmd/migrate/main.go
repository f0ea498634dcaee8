package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"

	"pushrelay/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./pushrelay.db", "Path to the database file")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(context.Background(), db); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	fmt.Println("Database schema is up to date.")
}
