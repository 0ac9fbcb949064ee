package migrator

import _ "embed"

// MySQL migration files
//
//go:embed sql/mysql/0001_init.up.sql
var mysql0001Up string

//go:embed sql/mysql/0001_init.down.sql
var mysql0001Down string

// PostgreSQL migration files
//
//go:embed sql/postgres/0001_init.up.sql
var pg0001Up string

//go:embed sql/postgres/0001_init.down.sql
var pg0001Down string

// SQLite migration files
//
//go:embed sql/sqlite3/0001_init.up.sql
var sqlite0001Up string

//go:embed sql/sqlite3/0001_init.down.sql
var sqlite0001Down string

var mysqlMigrations = []Migration{
	{Version: 1, UpSQL: mysql0001Up, DownSQL: mysql0001Down},
}

var postgresMigrations = []Migration{
	{Version: 1, UpSQL: pg0001Up, DownSQL: pg0001Down},
}

var sqliteMigrations = []Migration{
	{Version: 1, UpSQL: sqlite0001Up, DownSQL: sqlite0001Down},
}
