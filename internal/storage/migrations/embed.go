// Package migrations ships the storage schemas inside the binary so a
// deployment can bootstrap its databases without external SQL files.
package migrations

import "embed"

// PostgresFS holds the experiment and artifact catalog schema, applied
// in lexical filename order.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the candle timeseries schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
