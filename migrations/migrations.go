// Package migrations embeds the goose SQL migrations for both durable
// databases. The reports database and the request queue database are
// migrated from separate directories so that wiping one never touches the
// schema history of the other.
package migrations

import "embed"

//go:embed reports/*.sql queue/*.sql
var FS embed.FS

// Directory names within FS, one per database.
const (
	ReportsDir = "reports"
	QueueDir   = "queue"
)
