// Package migrations carries the journal, dedup and analytics DDL and
// applies it at startup.
package migrations

import "embed"

var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)
