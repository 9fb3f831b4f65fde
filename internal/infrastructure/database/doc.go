// Package database provides the station's local SQLite store.
//
// The store is secondary: device state is held in memory and the cloud is
// the system of record. SQLite keeps the state change history and a mirror
// of the last fetched process catalog so automations survive a cloud outage
// across restarts.
//
// Migrations are embedded by the top-level migrations package and applied
// with DB.Migrate at startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
