// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/models"
)

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := models.Open(sqlite.Open(dsn), zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// SQLite allows one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Fixture seeds the rows most handler and store tests need.
type Fixture struct {
	Center  models.Center
	Patient models.Patient
	Visit   models.Visit
}

// SeedVisit creates a center, a patient and one visit with no sub-records.
func SeedVisit(t testing.TB, db *gorm.DB) Fixture {
	t.Helper()

	f := Fixture{
		Center: models.Center{Name: "center-" + uuid.NewString()[:8]},
	}
	must(t, db.Create(&f.Center).Error)

	f.Patient = models.Patient{
		IDNumberHash: uuid.NewString(),
		IDNumber:     "123456789",
		FullName:     "Test Patient",
		Gender:       "female",
	}
	must(t, db.Create(&f.Patient).Error)

	f.Visit = models.Visit{
		PatientID: f.Patient.ID,
		CenterID:  f.Center.ID,
		VisitedAt: mustTime(t, "2024-03-05T09:30:00Z"),
	}
	must(t, db.Create(&f.Visit).Error)
	return f
}

// AddNurseRecord attaches a nurse note to the visit.
func AddNurseRecord(t testing.TB, db *gorm.DB, visitID string) {
	t.Helper()
	must(t, db.Create(&models.NurseRecord{VisitID: visitID, Note: "BP 120/80"}).Error)
}

// AddDoctorRecord attaches a doctor record to the visit.
func AddDoctorRecord(t testing.TB, db *gorm.DB, visitID string) {
	t.Helper()
	must(t, db.Create(&models.DoctorRecord{VisitID: visitID, Diagnosis: "flu"}).Error)
}

// AddDispense creates a medicine and dispenses it for the visit.
func AddDispense(t testing.TB, db *gorm.DB, visitID string) {
	t.Helper()
	med := models.Medicine{Name: "med-" + uuid.NewString()[:8], Amount: 10}
	must(t, db.Create(&med).Error)
	must(t, db.Create(&models.PharmacyDispense{
		VisitID:     visitID,
		MedicineID:  med.ID,
		Quantity:    1,
		DispensedAt: mustTime(t, "2024-03-05T11:00:00Z"),
	}).Error)
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func mustTime(t testing.TB, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}
