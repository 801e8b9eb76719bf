// Package migrations holds the Postgres schema, applied with bun's migrator.
// bun names each migration after the file that registers it, so every
// migration lives in its own <version>_<name>.go file.
package migrations

import (
	_ "embed"

	"github.com/uptrace/bun/migrate"
)

var (
	//go:embed 0001_create_quizzes.sql
	createQuizzesSQL string
	//go:embed 0002_create_attempts.sql
	createAttemptsSQL string
)

var Migrations = migrate.NewMigrations()
