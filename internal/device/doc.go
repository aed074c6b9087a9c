// Package device persists the runtime record of every Zigbee device the
// coordinator has reported.
//
// A record carries what must survive a restart: the friendly name, the model
// the device was last described as, its power source, the marker of the last
// configure procedure that succeeded, and its last known availability.
// Property values live in the store package; they reference records by id and
// are removed with them.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	err := repo.Upsert(ctx, &device.Record{ID: "0x00158d0001a2b3c4", FriendlyName: "hall"})
//	err = repo.SetConfiguredKey(ctx, "0x00158d0001a2b3c4", "v1")
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use; database/sql serialises access
// to the single SQLite connection.
package device
