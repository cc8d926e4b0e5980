// Package database provides the gateway's SQLite store.
//
// It opens the database with WAL and a busy timeout, keeps a single
// connection, and applies versioned migrations from an fs.FS. The
// migrations themselves live in the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry defaults, and
// every .up.sql has a matching .down.sql.
package database
