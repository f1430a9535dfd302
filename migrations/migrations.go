// Package migrations embeds the schema migrations of every backend.
package migrations

import "embed"

// BigQuery holds bigquery/NNNN_name.sql files with {{PROJECT_ID}} and
// {{DATASET_ID}} placeholders.
//
//go:embed bigquery/*.sql
var BigQuery embed.FS

// Postgres holds postgres/NNNN_name.sql files.
//
//go:embed postgres/*.sql
var Postgres embed.FS
