// Package all links every ledger backend.
package all

import (
	_ "vehicleetl/internal/storage/mssql"
	_ "vehicleetl/internal/storage/postgres"
	_ "vehicleetl/internal/storage/sqlite"
)
