package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/events"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

// DoctorHandler serves the clinician's queue and diagnosis form.
type DoctorHandler struct {
	DB     *gorm.DB
	Fields Fields
	Events events.Publisher
	Logger zerolog.Logger
}

// NewDoctorHandler creates a new DoctorHandler.
func NewDoctorHandler(db *gorm.DB, fields Fields, pub events.Publisher, logger zerolog.Logger) *DoctorHandler {
	return &DoctorHandler{DB: db, Fields: fields, Events: pub, Logger: logger}
}

// WaitingVisits lists visits assigned to the calling doctor that have no
// diagnosis yet.
func (h *DoctorHandler) WaitingVisits(c *gin.Context) {
	centerID, ok := centerScope(c)
	if !ok {
		return
	}
	doctorID, _ := middleware.GetUserIDFromContext(c)

	q := withWorkflow(h.DB.WithContext(c.Request.Context())).
		Scopes(withoutDispense).
		Where("doctor_id = ?", doctorID).
		Where("NOT EXISTS (SELECT 1 FROM doctor_records dr WHERE dr.visit_id = visits.id)")
	if centerID != "" {
		q = q.Where("center_id = ?", centerID)
	}
	var visits []models.Visit
	if err := q.Order("visited_at asc").Limit(maxListSize).Find(&visits).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch waiting visits: "+err.Error())
		return
	}

	out, err := summarizeAll(h.Fields, visits)
	if err != nil {
		h.Logger.Error().Err(err).Msg("doctor queue decryption failed")
		utils.InternalServerError(c, "Visit records could not be decrypted")
		return
	}
	utils.Success(c, "Waiting visits fetched successfully", out)
}

// RecordDiagnosisRequest is the doctor's record for a visit.
type RecordDiagnosisRequest struct {
	Diagnosis           string `json:"diagnosis" binding:"required,max=5000"`
	Medications         string `json:"medications" binding:"max=5000"`
	NeedsFurtherTesting bool   `json:"needsFurtherTesting"`
	IsContagious        bool   `json:"isContagious"`
	MedicalStatus       string `json:"medicalStatus" binding:"max=100"`
}

// RecordDiagnosis stores the encrypted diagnosis once per visit and updates
// the patient's medical status when one is given.
func (h *DoctorHandler) RecordDiagnosis(c *gin.Context) {
	var req RecordDiagnosisRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	doctorID, _ := middleware.GetUserIDFromContext(c)
	if visit.DoctorID != nil && *visit.DoctorID != doctorID {
		utils.Forbidden(c, "This visit is assigned to another doctor")
		return
	}

	diagnosis, err := h.Fields.Encrypt(req.Diagnosis)
	if err != nil {
		utils.InternalServerError(c, "Failed to encrypt diagnosis")
		return
	}
	medications, err := h.Fields.Encrypt(req.Medications)
	if err != nil {
		utils.InternalServerError(c, "Failed to encrypt medications")
		return
	}

	record := models.DoctorRecord{
		VisitID:             visit.ID,
		DoctorID:            doctorID,
		Diagnosis:           diagnosis,
		Medications:         medications,
		NeedsFurtherTesting: req.NeedsFurtherTesting,
		IsContagious:        req.IsContagious,
	}
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if req.MedicalStatus == "" {
			return nil
		}
		return tx.Model(&models.Patient{}).Where("id = ?", visit.PatientID).Update("medical_status", req.MedicalStatus).Error
	})
	if err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "A diagnosis has already been recorded for this visit")
			return
		}
		utils.InternalServerError(c, "Failed to record diagnosis: "+err.Error())
		return
	}

	e := events.New(events.DoctorRecorded, visit.ID)
	e.CenterID = visit.CenterID
	e.Stage = string(workflow.StageAwaitingPharmacy)
	publish(c, h.Events, h.Logger, e)

	utils.Created(c, "Diagnosis recorded successfully", gin.H{
		"id":                  record.ID,
		"visitId":             record.VisitID,
		"diagnosis":           req.Diagnosis,
		"medications":         req.Medications,
		"needsFurtherTesting": record.NeedsFurtherTesting,
		"isContagious":        record.IsContagious,
	})
}
