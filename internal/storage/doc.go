// Package storage owns the embedded SQLite database file: a bounded pool of
// reusable connections, schema migrations, transactional user/audit/app-data
// operations, and optional at-rest encryption of app_data values.
package storage
