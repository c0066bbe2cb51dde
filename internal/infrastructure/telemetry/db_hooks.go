package telemetry

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// queryHook is called after every GORM statement with its operation and wall time
type queryHook func(db *gorm.DB, operation string, elapsed time.Duration)

// registerQueryHooks times every create, query, update, delete, row and raw
// statement and hands the result to after. name must be unique per plugin.
func registerQueryHooks(db *gorm.DB, name string, after queryHook) error {
	startKey := name + ":start"
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startKey, time.Now())
	}
	afterFor := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			var elapsed time.Duration
			if v, ok := tx.InstanceGet(startKey); ok {
				if start, ok := v.(time.Time); ok {
					elapsed = time.Since(start)
				}
			}
			after(tx, operation, elapsed)
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register(name+":before_create", before),
		cb.Create().After("gorm:create").Register(name+":after_create", afterFor("INSERT")),
		cb.Query().Before("gorm:query").Register(name+":before_query", before),
		cb.Query().After("gorm:query").Register(name+":after_query", afterFor("SELECT")),
		cb.Update().Before("gorm:update").Register(name+":before_update", before),
		cb.Update().After("gorm:update").Register(name+":after_update", afterFor("UPDATE")),
		cb.Delete().Before("gorm:delete").Register(name+":before_delete", before),
		cb.Delete().After("gorm:delete").Register(name+":after_delete", afterFor("DELETE")),
		cb.Row().Before("gorm:row").Register(name+":before_row", before),
		cb.Row().After("gorm:row").Register(name+":after_row", afterFor("ROW")),
		cb.Raw().Before("gorm:raw").Register(name+":before_raw", before),
		cb.Raw().After("gorm:raw").Register(name+":after_raw", afterFor("RAW")),
	)
}

// isQueryError reports whether a statement error is a real failure
func isQueryError(err error) bool {
	return err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
}
