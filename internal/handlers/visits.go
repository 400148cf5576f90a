package handlers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/archive"
	"medical-center-server/internal/events"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/reports"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

// noDoctor is sent by clients that register a visit without assigning one.
const noDoctor = "no_doctor"

var idNumberPattern = regexp.MustCompile(`^\d{9}$`)

// VisitHandler handles patient registration and the visit lifecycle.
type VisitHandler struct {
	DB       *gorm.DB
	Fields   Fields
	Reader   workflow.Reader
	Archiver archive.Archiver
	Events   events.Publisher
	Logger   zerolog.Logger
}

// NewVisitHandler creates a new VisitHandler. A nil archiver means documents
// are not mirrored.
func NewVisitHandler(db *gorm.DB, fields Fields, reader workflow.Reader, archiver archive.Archiver, pub events.Publisher, logger zerolog.Logger) *VisitHandler {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &VisitHandler{DB: db, Fields: fields, Reader: reader, Archiver: archiver, Events: pub, Logger: logger}
}

// PatientResponse is a decrypted patient.
type PatientResponse struct {
	ID               string `json:"id"`
	IDNumber         string `json:"idNumber"`
	FullName         string `json:"fullName"`
	DateOfBirth      string `json:"dob"`
	Age              int    `json:"age"`
	Gender           string `json:"gender"`
	IsPregnant       bool   `json:"isPregnant"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	Address          string `json:"address,omitempty"`
	DisplacedAddress string `json:"displacedAddress,omitempty"`
	MaritalStatus    string `json:"maritalStatus,omitempty"`
	HasDisability    bool   `json:"hasDisability"`
	DisabilityType   string `json:"disabilityType,omitempty"`
	MedicalStatus    string `json:"medicalStatus,omitempty"`
}

func openPatient(fields Fields, p models.Patient) (PatientResponse, error) {
	idNumber, err := fields.Decrypt(p.IDNumber)
	if err != nil {
		return PatientResponse{}, fmt.Errorf("decrypt id number of patient %s: %w", p.ID, err)
	}
	name, err := fields.Decrypt(p.FullName)
	if err != nil {
		return PatientResponse{}, fmt.Errorf("decrypt name of patient %s: %w", p.ID, err)
	}
	return PatientResponse{
		ID:               p.ID,
		IDNumber:         idNumber,
		FullName:         name,
		DateOfBirth:      p.DateOfBirth.Format("2006-01-02"),
		Age:              reports.AgeOn(p.DateOfBirth, time.Now().UTC()),
		Gender:           p.Gender,
		IsPregnant:       p.IsPregnant,
		PhoneNumber:      p.PhoneNumber,
		Address:          p.Address,
		DisplacedAddress: p.DisplacedAddress,
		MaritalStatus:    p.MaritalStatus,
		HasDisability:    p.HasDisability,
		DisabilityType:   p.DisabilityType,
		MedicalStatus:    p.MedicalStatus,
	}, nil
}

// FindPatient looks a patient up by the 9 digit national id number.
func (h *VisitHandler) FindPatient(c *gin.Context) {
	idNumber := c.Param("idNumber")
	if !idNumberPattern.MatchString(idNumber) {
		utils.BadRequest(c, "ID number must be exactly 9 digits")
		return
	}

	var patient models.Patient
	err := h.DB.WithContext(c.Request.Context()).
		Where("id_number_hash = ?", h.Fields.BlindIndex(idNumber)).
		First(&patient).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Patient not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}

	resp, err := openPatient(h.Fields, patient)
	if err != nil {
		h.Logger.Error().Err(err).Msg("patient decryption failed")
		utils.InternalServerError(c, "Patient record could not be decrypted")
		return
	}
	utils.Success(c, "Patient found", resp)
}

// RegisterVisitRequest is the writer's intake form. The patient is created
// or updated from it, then a new visit is opened.
type RegisterVisitRequest struct {
	IDNumber         string `json:"idNumber" binding:"required,len=9,numeric"`
	FullName         string `json:"fullName" binding:"required,max=200"`
	DateOfBirth      string `json:"dob" binding:"required,datetime=2006-01-02"`
	Gender           string `json:"gender" binding:"required,oneof=male female"`
	IsPregnant       bool   `json:"isPregnant"`
	PhoneNumber      string `json:"phoneNumber" binding:"max=30"`
	Address          string `json:"address" binding:"max=255"`
	DisplacedAddress string `json:"displacedAddress" binding:"max=255"`
	MaritalStatus    string `json:"maritalStatus" binding:"max=30"`
	HasDisability    bool   `json:"hasDisability"`
	DisabilityType   string `json:"disabilityType" binding:"max=100"`
	DoctorID         string `json:"doctorId"`
	ServiceType      string `json:"serviceType" binding:"max=50"`
}

// VisitResponse describes a newly registered visit.
type VisitResponse struct {
	VisitID   string         `json:"visitId"`
	PatientID string         `json:"patientId"`
	CenterID  string         `json:"centerId"`
	DoctorID  *string        `json:"doctorId,omitempty"`
	VisitedAt time.Time      `json:"visitedAt"`
	Stage     workflow.Stage `json:"stage"`
}

// RegisterVisit upserts the patient and opens a visit at the writer's center.
func (h *VisitHandler) RegisterVisit(c *gin.Context) {
	var req RegisterVisitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	centerID, ok := middleware.GetCenterIDFromContext(c)
	if !ok {
		utils.Forbidden(c, "Your account is not assigned to a center")
		return
	}
	dob, _ := time.Parse("2006-01-02", req.DateOfBirth)
	if req.IsPregnant && req.Gender != models.GenderFemale {
		utils.BadRequest(c, "Only female patients can be marked pregnant")
		return
	}

	ctx := c.Request.Context()
	var doctorID *string
	if req.DoctorID != "" && req.DoctorID != noDoctor {
		var doctor models.User
		err := h.DB.WithContext(ctx).
			Where("id = ? AND role = ? AND is_active = ? AND center_id = ?", req.DoctorID, models.RoleDoctor, true, centerID).
			First(&doctor).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.BadRequest(c, "Doctor is not an active doctor of this center")
			} else {
				utils.InternalServerError(c, "Database error verifying doctor: "+err.Error())
			}
			return
		}
		doctorID = &doctor.ID
	}

	fullName, err := h.Fields.Encrypt(strings.TrimSpace(req.FullName))
	if err != nil {
		utils.InternalServerError(c, "Failed to encrypt patient data")
		return
	}

	visit := models.Visit{
		CenterID:    centerID,
		DoctorID:    doctorID,
		VisitedAt:   time.Now().UTC(),
		ServiceType: req.ServiceType,
	}
	if visit.ServiceType == "" {
		visit.ServiceType = "General"
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		err := tx.Where("id_number_hash = ?", h.Fields.BlindIndex(req.IDNumber)).First(&patient).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			encID, err := h.Fields.Encrypt(req.IDNumber)
			if err != nil {
				return err
			}
			patient = models.Patient{IDNumberHash: h.Fields.BlindIndex(req.IDNumber), IDNumber: encID}
		case err != nil:
			return err
		}

		patient.FullName = fullName
		patient.DateOfBirth = dob
		patient.Gender = req.Gender
		patient.IsPregnant = req.IsPregnant
		patient.PhoneNumber = req.PhoneNumber
		patient.Address = req.Address
		patient.DisplacedAddress = req.DisplacedAddress
		patient.MaritalStatus = req.MaritalStatus
		patient.HasDisability = req.HasDisability
		patient.DisabilityType = req.DisabilityType
		if err := tx.Save(&patient).Error; err != nil {
			return err
		}

		visit.PatientID = patient.ID
		return tx.Create(&visit).Error
	})
	if err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "Patient was registered concurrently, please retry")
			return
		}
		utils.InternalServerError(c, "Failed to register visit: "+err.Error())
		return
	}

	e := events.New(events.VisitRegistered, visit.ID)
	e.CenterID = centerID
	e.Stage = string(workflow.StageAwaitingNurse)
	publish(c, h.Events, h.Logger, e)

	utils.Created(c, "Visit registered successfully", VisitResponse{
		VisitID:   visit.ID,
		PatientID: visit.PatientID,
		CenterID:  visit.CenterID,
		DoctorID:  visit.DoctorID,
		VisitedAt: visit.VisitedAt,
		Stage:     workflow.StageAwaitingNurse,
	})
}

// VisitSummary is a queue or listing entry.
type VisitSummary struct {
	VisitID          string         `json:"visitId"`
	PatientID        string         `json:"patientId"`
	PatientName      string         `json:"patientName"`
	PatientIDNumber  string         `json:"patientIdNumber"`
	Gender           string         `json:"gender"`
	Age              int            `json:"age"`
	IsPregnant       bool           `json:"isPregnant"`
	DoctorName       string         `json:"doctorName,omitempty"`
	ServiceType      string         `json:"serviceType"`
	VisitedAt        time.Time      `json:"visitedAt"`
	Stage            workflow.Stage `json:"stage"`
	NurseNote        string         `json:"nurseNote,omitempty"`
	HasDocument      bool           `json:"hasDocument"`
	DocumentMimeType string         `json:"documentMimeType,omitempty"`
}

// withWorkflow preloads what a VisitSummary needs. Document payloads are
// never loaded.
func withWorkflow(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Patient").
		Preload("Doctor").
		Preload("NurseRecord").
		Preload("DoctorRecord").
		Preload("Dispenses").
		Preload("Document", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "visit_id", "mime_type")
		})
}

func summarize(fields Fields, v models.Visit) (VisitSummary, error) {
	p, err := openPatient(fields, v.Patient)
	if err != nil {
		return VisitSummary{}, err
	}
	s := VisitSummary{
		VisitID:         v.ID,
		PatientID:       p.ID,
		PatientName:     p.FullName,
		PatientIDNumber: p.IDNumber,
		Gender:          p.Gender,
		Age:             p.Age,
		IsPregnant:      p.IsPregnant,
		ServiceType:     v.ServiceType,
		VisitedAt:       v.VisitedAt,
		Stage:           visitStage(v),
		HasDocument:     v.Document != nil,
	}
	if v.Doctor != nil {
		s.DoctorName = v.Doctor.Name
	}
	if v.NurseRecord != nil {
		s.NurseNote = v.NurseRecord.Note
	}
	if v.Document != nil {
		s.DocumentMimeType = v.Document.MimeType
	}
	return s, nil
}

func summarizeAll(fields Fields, visits []models.Visit) ([]VisitSummary, error) {
	out := make([]VisitSummary, 0, len(visits))
	for _, v := range visits {
		s, err := summarize(fields, v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RecentVisits lists the latest visits of the writer's center that have not
// reached the pharmacy yet.
func (h *VisitHandler) RecentVisits(c *gin.Context) {
	centerID, ok := centerScope(c)
	if !ok {
		return
	}

	q := withWorkflow(h.DB.WithContext(c.Request.Context())).Scopes(withoutDispense)
	if centerID != "" {
		q = q.Where("center_id = ?", centerID)
	}
	var visits []models.Visit
	if err := q.Order("visited_at desc").Limit(maxListSize).Find(&visits).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch visits: "+err.Error())
		return
	}

	out, err := summarizeAll(h.Fields, visits)
	if err != nil {
		h.Logger.Error().Err(err).Msg("visit listing decryption failed")
		utils.InternalServerError(c, "Visit records could not be decrypted")
		return
	}
	utils.Success(c, "Recent visits fetched successfully", out)
}

// StageResponse reports where a visit is in the workflow.
type StageResponse struct {
	workflow.Snapshot
	Stage workflow.Stage `json:"stage"`
}

// GetStage returns the derived stage of a visit.
func (h *VisitHandler) GetStage(c *gin.Context) {
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	snap, err := h.Reader.Snapshot(c.Request.Context(), visit.ID)
	if err != nil {
		writeDocumentError(c, h.Logger, err)
		return
	}
	utils.Success(c, "Visit stage fetched successfully", StageResponse{Snapshot: snap, Stage: snap.Stage()})
}

// DeleteVisit removes a visit and every record attached to it. The archived
// copy of its document is dropped once the rows are gone.
func (h *VisitHandler) DeleteVisit(c *gin.Context) {
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var hadDocument bool
	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		children := []any{
			&models.PharmacyDispense{},
			&models.DoctorRecord{},
			&models.NurseRecord{},
		}
		for _, m := range children {
			if err := tx.Where("visit_id = ?", visit.ID).Delete(m).Error; err != nil {
				return fmt.Errorf("delete %T: %w", m, err)
			}
		}
		res := tx.Where("visit_id = ?", visit.ID).Delete(&models.VisitDocument{})
		if res.Error != nil {
			return fmt.Errorf("delete document: %w", res.Error)
		}
		hadDocument = res.RowsAffected > 0
		return tx.Delete(&models.Visit{}, "id = ?", visit.ID).Error
	})
	if err != nil {
		utils.InternalServerError(c, "Failed to delete visit: "+err.Error())
		return
	}

	if hadDocument {
		if err := h.Archiver.Remove(ctx, visit.ID); err != nil {
			h.Logger.Warn().Err(err).Str("visit_id", visit.ID).Msg("archived document removal failed")
		}
	}

	e := events.New(events.VisitDeleted, visit.ID)
	e.CenterID = visit.CenterID
	publish(c, h.Events, h.Logger, e)

	h.Logger.Info().Str("visit_id", visit.ID).Bool("had_document", hadDocument).Msg("visit deleted")
	utils.Success(c, "Visit deleted successfully", nil)
}
