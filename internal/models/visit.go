package models

import (
	"time"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Patient holds a registered patient. Identifying fields are stored
// encrypted; IDNumberHash is a blind index used for lookups.
type Patient struct {
	BaseModel
	IDNumberHash     string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	IDNumber         string    `gorm:"type:text;not null" json:"-"`
	FullName         string    `gorm:"type:text;not null" json:"-"`
	DateOfBirth      time.Time `json:"dateOfBirth"`
	Gender           string    `gorm:"size:20" json:"gender"`
	IsPregnant       bool      `gorm:"default:false" json:"isPregnant"`
	PhoneNumber      string    `gorm:"size:30" json:"phoneNumber,omitempty"`
	Address          string    `gorm:"size:255" json:"address,omitempty"`
	DisplacedAddress string    `gorm:"size:255" json:"displacedAddress,omitempty"`
	MaritalStatus    string    `gorm:"size:30" json:"maritalStatus,omitempty"`
	HasDisability    bool      `gorm:"default:false" json:"hasDisability"`
	DisabilityType   string    `gorm:"size:100" json:"disabilityType,omitempty"`
	MedicalStatus    string    `gorm:"size:100" json:"medicalStatus,omitempty"`

	Visits []Visit `gorm:"foreignKey:PatientID" json:"-"`
}

// Visit is one clinical encounter of a patient at a center. Its workflow
// stage is derived from which sub-records exist; there is no status column.
type Visit struct {
	BaseModel
	PatientID   string    `gorm:"size:36;index;not null" json:"patientId"`
	CenterID    string    `gorm:"size:36;index;not null" json:"centerId"`
	DoctorID    *string   `gorm:"size:36;index" json:"doctorId,omitempty"`
	VisitedAt   time.Time `gorm:"index;not null" json:"visitedAt"`
	ServiceType string    `gorm:"size:50;default:'General'" json:"serviceType"`

	// Relations
	Patient      Patient            `gorm:"foreignKey:PatientID" json:"-"`
	Center       Center             `gorm:"foreignKey:CenterID" json:"-"`
	Doctor       *User              `gorm:"foreignKey:DoctorID" json:"-"`
	NurseRecord  *NurseRecord       `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"-"`
	DoctorRecord *DoctorRecord      `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"-"`
	Dispenses    []PharmacyDispense `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"-"`
	Document     *VisitDocument     `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"-"`
}

// NurseRecord is the vital-signs note for a visit. Created once.
type NurseRecord struct {
	BaseModel
	VisitID string `gorm:"uniqueIndex;size:36;not null" json:"visitId"`
	NurseID string `gorm:"size:36;index" json:"nurseId"`
	Note    string `gorm:"type:text;not null" json:"note"`
}

// DoctorRecord is the diagnosis and treatment for a visit. Created once.
// Diagnosis and Medications are stored encrypted.
type DoctorRecord struct {
	BaseModel
	VisitID             string `gorm:"uniqueIndex;size:36;not null" json:"visitId"`
	DoctorID            string `gorm:"size:36;index" json:"doctorId"`
	Diagnosis           string `gorm:"type:text" json:"-"`
	Medications         string `gorm:"type:text" json:"-"`
	NeedsFurtherTesting bool   `gorm:"default:false" json:"needsFurtherTesting"`
	IsContagious        bool   `gorm:"default:false" json:"isContagious"`
}
