// Package database provides the SQLite connection used by the gateway's
// persistent stores (device runtime records and confirmed property values).
//
// The database runs in WAL mode with a single pooled connection, matching
// SQLite's single-writer model. Schema changes are applied at startup from
// migration files embedded in the binary:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
package database
