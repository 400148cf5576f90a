package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/utils"
)

// MaxImportBytes caps the size of an offline import file.
const MaxImportBytes = 20 << 20

// ImportHandler loads patients and visits that were recorded offline.
type ImportHandler struct {
	DB     *gorm.DB
	Fields Fields
	Logger zerolog.Logger
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(db *gorm.DB, fields Fields, logger zerolog.Logger) *ImportHandler {
	return &ImportHandler{DB: db, Fields: fields, Logger: logger}
}

// ImportDispense is one medicine handed out during an offline visit.
type ImportDispense struct {
	Medicine string `json:"medicine" binding:"required,max=150"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// ImportVisit is a completed offline visit. It is imported with its nurse
// note, diagnosis and dispenses.
type ImportVisit struct {
	VisitID     string           `json:"visitId" binding:"required,max=36"`
	Date        string           `json:"date" binding:"required,datetime=2006-01-02"`
	ServiceType string           `json:"serviceType" binding:"max=50"`
	NurseNote   string           `json:"nurseNote"`
	Diagnosis   string           `json:"diagnosis"`
	Medications string           `json:"medications"`
	Dispenses   []ImportDispense `json:"dispenses" binding:"required,min=1,dive"`
}

// ImportPatient is one entry of the import file.
type ImportPatient struct {
	IDNumber       string        `json:"idNumber" binding:"required,len=9,numeric"`
	FullName       string        `json:"fullName" binding:"required,max=200"`
	DateOfBirth    string        `json:"dob" binding:"required,datetime=2006-01-02"`
	Gender         string        `json:"gender" binding:"required,oneof=male female"`
	IsPregnant     bool          `json:"isPregnant"`
	PhoneNumber    string        `json:"phoneNumber" binding:"max=30"`
	MaritalStatus  string        `json:"maritalStatus" binding:"max=30"`
	HasDisability  bool          `json:"hasDisability"`
	DisabilityType string        `json:"disabilityType" binding:"max=100"`
	Visits         []ImportVisit `json:"visits" binding:"dive"`
}

// ImportResult counts what an import changed.
type ImportResult struct {
	AddedPatients    int `json:"addedPatients"`
	ExistingPatients int `json:"existingPatients"`
	AddedVisits      int `json:"addedVisits"`
	SkippedVisits    int `json:"skippedVisits"`
}

// ImportPatients reads a JSON array of patients from the multipart field
// "file" and loads it into the center named by the "centerId" field. Known
// patients are matched by id number and left as they are; visits whose id
// already exists are skipped. The whole file is applied in one transaction.
func (h *ImportHandler) ImportPatients(c *gin.Context) {
	centerID := strings.TrimSpace(c.PostForm("centerId"))
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.PayloadTooLarge(c, fmt.Sprintf("Import file exceeds maximum allowed size of %d bytes", MaxImportBytes))
			return
		}
		utils.BadRequest(c, "No file uploaded")
		return
	}
	if centerID == "" {
		utils.BadRequest(c, "No center selected")
		return
	}
	if fh.Size > MaxImportBytes {
		utils.PayloadTooLarge(c, fmt.Sprintf("Import file exceeds maximum allowed size of %d bytes", MaxImportBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		utils.BadRequest(c, "Could not read uploaded file")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(f, MaxImportBytes))
	f.Close()
	if err != nil {
		utils.BadRequest(c, "Could not read uploaded file")
		return
	}

	var patients []ImportPatient
	if err := binding.JSON.BindBody(raw, &patients); err != nil {
		utils.BadRequest(c, "Invalid import file: "+err.Error())
		return
	}
	if msg := checkImport(patients); msg != "" {
		utils.BadRequest(c, msg)
		return
	}

	ctx := c.Request.Context()
	var center models.Center
	if err := h.DB.WithContext(ctx).First(&center, "id = ?", centerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.BadRequest(c, "Center does not exist")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}

	importer, _ := middleware.GetUserIDFromContext(c)
	var result ImportResult
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		medicines := map[string]string{}
		for _, p := range patients {
			patientID, created, err := h.upsertPatient(tx, p)
			if err != nil {
				return err
			}
			if created {
				result.AddedPatients++
			} else {
				result.ExistingPatients++
			}

			for _, v := range p.Visits {
				var n int64
				if err := tx.Model(&models.Visit{}).Where("id = ?", v.VisitID).Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					result.SkippedVisits++
					continue
				}
				if err := h.createVisit(tx, center.ID, patientID, importer, v, medicines); err != nil {
					return fmt.Errorf("visit %s: %w", v.VisitID, err)
				}
				result.AddedVisits++
			}
		}
		return nil
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("center_id", center.ID).Msg("patient import failed")
		utils.InternalServerError(c, "Import failed, nothing was saved: "+err.Error())
		return
	}

	h.Logger.Info().
		Str("center_id", center.ID).
		Str("user_id", importer).
		Int("added_patients", result.AddedPatients).
		Int("existing_patients", result.ExistingPatients).
		Int("added_visits", result.AddedVisits).
		Int("skipped_visits", result.SkippedVisits).
		Msg("patients imported")

	msg := fmt.Sprintf("Import successful: %d new patients, %d existing patients, and %d new visits added.",
		result.AddedPatients, result.ExistingPatients, result.AddedVisits)
	utils.Success(c, msg, result)
}

// checkImport applies the rules binding tags cannot express.
func checkImport(patients []ImportPatient) string {
	for i, p := range patients {
		if p.IsPregnant && p.Gender != models.GenderFemale {
			return fmt.Sprintf("Patient %d: only female patients can be marked pregnant", i)
		}
		for _, v := range p.Visits {
			dups := lo.FindDuplicatesBy(v.Dispenses, func(d ImportDispense) string {
				return strings.ToLower(strings.TrimSpace(d.Medicine))
			})
			if len(dups) > 0 {
				return fmt.Sprintf("Visit %s lists %s more than once", v.VisitID, dups[0].Medicine)
			}
		}
	}
	return ""
}

func (h *ImportHandler) upsertPatient(tx *gorm.DB, p ImportPatient) (string, bool, error) {
	index := h.Fields.BlindIndex(p.IDNumber)
	var existing models.Patient
	err := tx.Select("id").Where("id_number_hash = ?", index).First(&existing).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	encID, err := h.Fields.Encrypt(p.IDNumber)
	if err != nil {
		return "", false, fmt.Errorf("encrypt id number: %w", err)
	}
	name, err := h.Fields.Encrypt(strings.TrimSpace(p.FullName))
	if err != nil {
		return "", false, fmt.Errorf("encrypt name: %w", err)
	}
	dob, _ := time.Parse("2006-01-02", p.DateOfBirth)

	patient := models.Patient{
		IDNumberHash:   index,
		IDNumber:       encID,
		FullName:       name,
		DateOfBirth:    dob,
		Gender:         p.Gender,
		IsPregnant:     p.IsPregnant,
		PhoneNumber:    p.PhoneNumber,
		MaritalStatus:  p.MaritalStatus,
		HasDisability:  p.HasDisability,
		DisabilityType: p.DisabilityType,
	}
	if err := tx.Create(&patient).Error; err != nil {
		return "", false, err
	}
	return patient.ID, true, nil
}

// createVisit writes a visit with its nurse, doctor and dispense rows. The
// importing admin is recorded as the author of each.
func (h *ImportHandler) createVisit(tx *gorm.DB, centerID, patientID, importer string, v ImportVisit, medicines map[string]string) error {
	visitedAt, _ := time.Parse("2006-01-02", v.Date)
	visit := models.Visit{
		BaseModel:   models.BaseModel{ID: v.VisitID},
		PatientID:   patientID,
		CenterID:    centerID,
		VisitedAt:   visitedAt,
		ServiceType: lo.Ternary(v.ServiceType == "", "General", v.ServiceType),
	}
	if err := tx.Create(&visit).Error; err != nil {
		return err
	}
	if err := tx.Create(&models.NurseRecord{VisitID: visit.ID, NurseID: importer, Note: v.NurseNote}).Error; err != nil {
		return err
	}

	diagnosis, err := h.Fields.Encrypt(v.Diagnosis)
	if err != nil {
		return fmt.Errorf("encrypt diagnosis: %w", err)
	}
	medications, err := h.Fields.Encrypt(v.Medications)
	if err != nil {
		return fmt.Errorf("encrypt medications: %w", err)
	}
	record := models.DoctorRecord{VisitID: visit.ID, DoctorID: importer, Diagnosis: diagnosis, Medications: medications}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}

	for _, d := range v.Dispenses {
		name := strings.TrimSpace(d.Medicine)
		key := strings.ToLower(name)
		medicineID, ok := medicines[key]
		if !ok {
			var m models.Medicine
			if err := tx.Where("LOWER(name) = ?", key).First(&m).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				m = models.Medicine{Name: name}
				if err := tx.Create(&m).Error; err != nil {
					return err
				}
			}
			medicineID = m.ID
			medicines[key] = medicineID
		}
		dispense := models.PharmacyDispense{
			VisitID:      visit.ID,
			MedicineID:   medicineID,
			PharmacistID: importer,
			Quantity:     d.Quantity,
			DispensedAt:  visitedAt,
		}
		if err := tx.Create(&dispense).Error; err != nil {
			return err
		}
	}
	return nil
}
