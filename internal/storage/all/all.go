// Package all registers every storage backend with the storage registry.
package all

import (
	_ "dialogdb/internal/storage/mssql"
	_ "dialogdb/internal/storage/postgres"
	_ "dialogdb/internal/storage/sqlite"
)
