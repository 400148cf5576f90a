package models

import (
	"time"
)

// Medicine is a pharmacy catalogue entry.
type Medicine struct {
	BaseModel
	Name   string `gorm:"uniqueIndex;size:150;not null" json:"name"`
	Type   string `gorm:"size:100" json:"type"`
	Amount int    `gorm:"default:0" json:"amount"`
}

// PharmacyDispense records one medicine handed out for a visit. A medicine
// can only be dispensed once per visit.
type PharmacyDispense struct {
	BaseModel
	VisitID      string    `gorm:"size:36;not null;uniqueIndex:idx_dispense_visit_medicine" json:"visitId"`
	MedicineID   string    `gorm:"size:36;not null;uniqueIndex:idx_dispense_visit_medicine" json:"medicineId"`
	PharmacistID string    `gorm:"size:36;index" json:"pharmacistId"`
	Quantity     int       `gorm:"not null" json:"quantity"`
	DispensedAt  time.Time `gorm:"index;not null" json:"dispensedAt"`

	Medicine Medicine `gorm:"foreignKey:MedicineID" json:"-"`
	Visit    Visit    `gorm:"foreignKey:VisitID" json:"-"`
}

// VisitDocument is the encrypted prescription attached to a visit. One per
// visit, enforced by the unique index on VisitID.
type VisitDocument struct {
	BaseModel
	VisitID       string `gorm:"uniqueIndex;size:36;not null" json:"visitId"`
	EncryptedData []byte `gorm:"not null" json:"-"`
	IV            []byte `gorm:"not null" json:"-"`
	MimeType      string `gorm:"size:50;not null" json:"mimeType"`
	UploadedBy    string `gorm:"size:36" json:"uploadedBy"`
	UploadedRole  Role   `gorm:"size:20" json:"uploadedRole"`
}
