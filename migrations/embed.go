// Package migrations bundles the SQL schema so services and integration
// tests apply the same files regardless of working directory.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS
