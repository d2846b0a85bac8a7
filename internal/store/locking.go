package store

import "gorm.io/gorm/clause"

// lockingClause requests a SELECT ... FOR UPDATE row lock, used by
// every check-then-act sequence that must not race under concurrent
// callers (the restore-job-per-VM guard, the on-demand-trigger
// single-pending guard, trigger claiming).
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// onConflictUpdateWatermark upserts the single-row SyncWatermark by
// primary key, since GORM has no dedicated "touch a singleton row"
// helper.
func onConflictUpdateWatermark() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}
}
