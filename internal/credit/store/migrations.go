package store

import "embed"

// Migrations holds the golang-migrate SQL files for the ledger schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the files.
const MigrationsDir = "migrations"
