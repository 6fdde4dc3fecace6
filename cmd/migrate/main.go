package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", constants.DefaultDatabasePath, "Path to the database file")
	status := flag.Bool("status", false, "Print the schema version and pending migrations without applying them")
	flag.Parse()

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database file not found: %s", *dbPath)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", *dbPath))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	available, err := migrations.Load()
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	current, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Current schema version: %d\n", current)

	if *status {
		for _, m := range available {
			if m.Version > current {
				fmt.Printf("Pending: %03d %s\n", m.Version, m.Name)
			}
		}
		return
	}

	applied, err := migrations.ApplyMigrations(ctx, db, available)
	if err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date, nothing to apply")
		return
	}
	for _, v := range applied {
		fmt.Printf("Applied migration %03d\n", v)
	}
	fmt.Println("Database schema updated")
}
