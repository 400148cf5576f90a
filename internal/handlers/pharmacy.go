package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"medical-center-server/internal/events"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

var errUnknownMedicine = errors.New("unknown medicine")

// PharmacyHandler serves the pharmacy counter and the medicine catalogue.
type PharmacyHandler struct {
	DB     *gorm.DB
	Fields Fields
	Events events.Publisher
	Logger zerolog.Logger
}

// NewPharmacyHandler creates a new PharmacyHandler.
func NewPharmacyHandler(db *gorm.DB, fields Fields, pub events.Publisher, logger zerolog.Logger) *PharmacyHandler {
	return &PharmacyHandler{DB: db, Fields: fields, Events: pub, Logger: logger}
}

// ListMedicines returns the catalogue ordered by name.
func (h *PharmacyHandler) ListMedicines(c *gin.Context) {
	var medicines []models.Medicine
	if err := h.DB.WithContext(c.Request.Context()).Order("name").Find(&medicines).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch medicines: "+err.Error())
		return
	}
	utils.Success(c, "Medicines fetched successfully", medicines)
}

// CreateMedicineRequest is the body of CreateMedicine.
type CreateMedicineRequest struct {
	Name string `json:"name" binding:"required,max=150"`
	Type string `json:"type" binding:"required,max=100"`
}

// CreateMedicine adds a medicine to the catalogue.
func (h *PharmacyHandler) CreateMedicine(c *gin.Context) {
	var req CreateMedicineRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	medicine := models.Medicine{Name: strings.TrimSpace(req.Name), Type: strings.TrimSpace(req.Type)}
	if err := h.DB.WithContext(c.Request.Context()).Create(&medicine).Error; err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "A medicine with this name already exists")
			return
		}
		utils.InternalServerError(c, "Failed to create medicine: "+err.Error())
		return
	}
	utils.Created(c, "Medicine created successfully", medicine)
}

// PharmacyVisit is a pharmacy queue entry with the decrypted prescription.
type PharmacyVisit struct {
	VisitSummary
	Diagnosis           string `json:"diagnosis"`
	Medications         string `json:"medications"`
	NeedsFurtherTesting bool   `json:"needsFurtherTesting"`
	IsContagious        bool   `json:"isContagious"`
}

// WaitingVisits lists diagnosed visits of the pharmacist's center that have
// not been dispensed.
func (h *PharmacyHandler) WaitingVisits(c *gin.Context) {
	centerID, ok := centerScope(c)
	if !ok {
		return
	}

	q := withWorkflow(h.DB.WithContext(c.Request.Context())).
		Scopes(withoutDispense).
		Where("EXISTS (SELECT 1 FROM doctor_records dr WHERE dr.visit_id = visits.id)")
	if centerID != "" {
		q = q.Where("center_id = ?", centerID)
	}
	var visits []models.Visit
	if err := q.Order("visited_at asc").Limit(maxListSize).Find(&visits).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch waiting visits: "+err.Error())
		return
	}

	out := make([]PharmacyVisit, 0, len(visits))
	for _, v := range visits {
		row, err := h.pharmacyVisit(v)
		if err != nil {
			h.Logger.Error().Err(err).Str("visit_id", v.ID).Msg("pharmacy queue decryption failed")
			utils.InternalServerError(c, "Visit records could not be decrypted")
			return
		}
		out = append(out, row)
	}
	utils.Success(c, "Waiting visits fetched successfully", out)
}

func (h *PharmacyHandler) pharmacyVisit(v models.Visit) (PharmacyVisit, error) {
	summary, err := summarize(h.Fields, v)
	if err != nil {
		return PharmacyVisit{}, err
	}
	row := PharmacyVisit{VisitSummary: summary}
	if v.DoctorRecord == nil {
		return row, nil
	}
	if row.Diagnosis, err = h.Fields.Decrypt(v.DoctorRecord.Diagnosis); err != nil {
		return PharmacyVisit{}, fmt.Errorf("decrypt diagnosis: %w", err)
	}
	if row.Medications, err = h.Fields.Decrypt(v.DoctorRecord.Medications); err != nil {
		return PharmacyVisit{}, fmt.Errorf("decrypt medications: %w", err)
	}
	row.NeedsFurtherTesting = v.DoctorRecord.NeedsFurtherTesting
	row.IsContagious = v.DoctorRecord.IsContagious
	return row, nil
}

// DispenseItem is one medicine handed out.
type DispenseItem struct {
	MedicineID string `json:"medicineId" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1,max=1000"`
}

// DispenseRequest lists the medicines handed out for a visit.
type DispenseRequest struct {
	Items []DispenseItem `json:"items" binding:"required,min=1,dive"`
}

// Dispense records medicines for a visit. The prescription document must be
// uploaded first and a medicine can be dispensed only once per visit.
func (h *PharmacyHandler) Dispense(c *gin.Context) {
	var req DispenseRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if dup := lo.FindDuplicatesBy(req.Items, func(i DispenseItem) string { return i.MedicineID }); len(dup) > 0 {
		utils.BadRequest(c, "Each medicine may appear only once")
		return
	}
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var documents int64
	if err := h.DB.WithContext(ctx).Model(&models.VisitDocument{}).Where("visit_id = ?", visit.ID).Count(&documents).Error; err != nil {
		utils.InternalServerError(c, "Database error: "+err.Error())
		return
	}
	if documents == 0 {
		utils.BadRequest(c, "Upload the prescription document before dispensing")
		return
	}

	pharmacistID, _ := middleware.GetUserIDFromContext(c)
	now := time.Now().UTC()
	dispenses := lo.Map(req.Items, func(i DispenseItem, _ int) models.PharmacyDispense {
		return models.PharmacyDispense{
			VisitID:      visit.ID,
			MedicineID:   i.MedicineID,
			PharmacistID: pharmacistID,
			Quantity:     i.Quantity,
			DispensedAt:  now,
		}
	})

	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var known int64
		ids := lo.Map(req.Items, func(i DispenseItem, _ int) string { return i.MedicineID })
		if err := tx.Model(&models.Medicine{}).Where("id IN ?", ids).Count(&known).Error; err != nil {
			return err
		}
		if int(known) != len(ids) {
			return errUnknownMedicine
		}
		return tx.Omit("Medicine", "Visit").Create(&dispenses).Error
	})
	switch {
	case errors.Is(err, errUnknownMedicine):
		utils.BadRequest(c, "One or more medicines do not exist")
		return
	case models.IsUniqueViolation(err):
		utils.Conflict(c, "This medicine has already been dispensed for this visit")
		return
	case err != nil:
		utils.InternalServerError(c, "Failed to dispense: "+err.Error())
		return
	}

	e := events.New(events.MedicineDispensed, visit.ID)
	e.CenterID = visit.CenterID
	e.Stage = string(workflow.StageDispensed)
	e.Attributes = map[string]string{"items": fmt.Sprint(len(dispenses))}
	publish(c, h.Events, h.Logger, e)

	utils.Created(c, "Medicines dispensed successfully", dispenses)
}
