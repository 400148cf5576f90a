package workflow

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"medical-center-server/internal/models"
)

// GormReader builds snapshots with one count query per sub-record table.
type GormReader struct {
	DB *gorm.DB
}

// NewGormReader creates a GormReader.
func NewGormReader(db *gorm.DB) *GormReader {
	return &GormReader{DB: db}
}

// Snapshot implements Reader.
func (r *GormReader) Snapshot(ctx context.Context, visitID string) (Snapshot, error) {
	db := r.DB.WithContext(ctx)

	var visits int64
	if err := db.Model(&models.Visit{}).Where("id = ?", visitID).Count(&visits).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count visit: %w", err)
	}
	if visits == 0 {
		return Snapshot{}, ErrVisitNotFound
	}

	snap := Snapshot{VisitID: visitID}
	counts := []struct {
		model any
		dst   *int64
	}{
		{&models.NurseRecord{}, new(int64)},
		{&models.DoctorRecord{}, new(int64)},
		{&models.VisitDocument{}, new(int64)},
		{&models.PharmacyDispense{}, &snap.DispenseCount},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where("visit_id = ?", visitID).Count(c.dst).Error; err != nil {
			return Snapshot{}, fmt.Errorf("count %T: %w", c.model, err)
		}
	}
	snap.HasNurseRecord = *counts[0].dst > 0
	snap.HasDoctorRecord = *counts[1].dst > 0
	snap.HasDocument = *counts[2].dst > 0
	return snap, nil
}

// SnapshotOf projects a visit loaded with its NurseRecord, DoctorRecord,
// Dispenses and Document relations.
func SnapshotOf(v models.Visit) Snapshot {
	return Snapshot{
		VisitID:         v.ID,
		HasNurseRecord:  v.NurseRecord != nil,
		HasDoctorRecord: v.DoctorRecord != nil,
		HasDocument:     v.Document != nil,
		DispenseCount:   int64(len(v.Dispenses)),
	}
}
