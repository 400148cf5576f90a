package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"medical-center-server/internal/models"
	"medical-center-server/internal/workflow"
)

// DownloadInfo is what a download file name is built from.
type DownloadInfo struct {
	PatientIDNumber string
	VisitedAt       time.Time
}

// VisitDirectory resolves visit details for downloads.
type VisitDirectory interface {
	DownloadInfo(ctx context.Context, visitID string) (DownloadInfo, error)
}

// FieldDecrypter reverses field-level encryption of patient columns.
type FieldDecrypter interface {
	Decrypt(value string) (string, error)
}

// GormDirectory reads the visit and its patient from the database.
type GormDirectory struct {
	DB     *gorm.DB
	Fields FieldDecrypter
}

// NewGormDirectory creates a GormDirectory.
func NewGormDirectory(db *gorm.DB, fields FieldDecrypter) *GormDirectory {
	return &GormDirectory{DB: db, Fields: fields}
}

// DownloadInfo implements VisitDirectory.
func (d *GormDirectory) DownloadInfo(ctx context.Context, visitID string) (DownloadInfo, error) {
	var visit models.Visit
	err := d.DB.WithContext(ctx).Preload("Patient").First(&visit, "id = ?", visitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DownloadInfo{}, workflow.ErrVisitNotFound
	}
	if err != nil {
		return DownloadInfo{}, fmt.Errorf("load visit: %w", err)
	}

	idNumber, err := d.Fields.Decrypt(visit.Patient.IDNumber)
	if err != nil {
		return DownloadInfo{}, fmt.Errorf("decrypt patient id number: %w", err)
	}
	return DownloadInfo{PatientIDNumber: idNumber, VisitedAt: visit.VisitedAt}, nil
}
