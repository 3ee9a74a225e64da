// Package database provides SQLite connectivity for MeshLab Core.
//
// SQLite holds the durable state of the lab: bookings, group metadata and
// the audit trail. The live device cache is deliberately not persisted; it
// is rebuilt from bridge snapshots on every connect.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry defaults.
package database
