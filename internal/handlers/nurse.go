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

// NurseHandler serves the nurse station.
type NurseHandler struct {
	DB     *gorm.DB
	Fields Fields
	Reader workflow.Reader
	Events events.Publisher
	Logger zerolog.Logger
}

// NewNurseHandler creates a new NurseHandler.
func NewNurseHandler(db *gorm.DB, fields Fields, reader workflow.Reader, pub events.Publisher, logger zerolog.Logger) *NurseHandler {
	return &NurseHandler{DB: db, Fields: fields, Reader: reader, Events: pub, Logger: logger}
}

// WaitingVisits lists visits of the nurse's center still waiting for vitals.
func (h *NurseHandler) WaitingVisits(c *gin.Context) {
	centerID, ok := centerScope(c)
	if !ok {
		return
	}

	q := withWorkflow(h.DB.WithContext(c.Request.Context())).
		Scopes(withoutDispense).
		Where("NOT EXISTS (SELECT 1 FROM nurse_records nr WHERE nr.visit_id = visits.id)")
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
		h.Logger.Error().Err(err).Msg("nurse queue decryption failed")
		utils.InternalServerError(c, "Visit records could not be decrypted")
		return
	}
	utils.Success(c, "Waiting visits fetched successfully", out)
}

// RecordVitalsRequest is the nurse's note for a visit.
type RecordVitalsRequest struct {
	Note string `json:"note" binding:"required,max=5000"`
}

// RecordVitals stores the nurse note. A visit has at most one.
func (h *NurseHandler) RecordVitals(c *gin.Context) {
	var req RecordVitalsRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}

	nurseID, _ := middleware.GetUserIDFromContext(c)
	record := models.NurseRecord{VisitID: visit.ID, NurseID: nurseID, Note: req.Note}
	if err := h.DB.WithContext(c.Request.Context()).Create(&record).Error; err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "Vitals have already been recorded for this visit")
			return
		}
		utils.InternalServerError(c, "Failed to record vitals: "+err.Error())
		return
	}

	e := events.New(events.NurseRecorded, visit.ID)
	e.CenterID = visit.CenterID
	e.Stage = string(workflow.StageAwaitingClinician)
	publish(c, h.Events, h.Logger, e)

	utils.Created(c, "Vitals recorded successfully", record)
}

// UploadEligibility is the answer to a can-upload query.
type UploadEligibility struct {
	workflow.Decision
	Message string         `json:"message,omitempty"`
	Stage   workflow.Stage `json:"stage"`
}

// CanUpload tells the nurse whether a document may be uploaded right now.
func (h *NurseHandler) CanUpload(c *gin.Context) {
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	snap, err := h.Reader.Snapshot(c.Request.Context(), visit.ID)
	if err != nil {
		writeDocumentError(c, h.Logger, err)
		return
	}

	d := workflow.NurseUpload(snap)
	utils.Success(c, "Upload eligibility checked", UploadEligibility{
		Decision: d,
		Message:  d.Reason.Message(),
		Stage:    snap.Stage(),
	})
}
