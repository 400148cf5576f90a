package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/documents"
	"medical-center-server/internal/events"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/security"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

// maxListSize caps the waiting lists and recent visit listings.
const maxListSize = 50

// Fields encrypts patient and clinical columns and computes the blind index
// used to find a patient by id number.
type Fields interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	BlindIndex(value string) string
}

func actorFrom(c *gin.Context) documents.Actor {
	id, _ := middleware.GetUserIDFromContext(c)
	role, _ := middleware.GetUserRoleFromContext(c)
	return documents.Actor{UserID: id, Role: role}
}

// centerScope returns the caller's center id, or "" for admins who see every
// center. Staff without a center are refused.
func centerScope(c *gin.Context) (string, bool) {
	if role, _ := middleware.GetUserRoleFromContext(c); role == models.RoleAdmin {
		return "", true
	}
	centerID, ok := middleware.GetCenterIDFromContext(c)
	if !ok {
		utils.Forbidden(c, "Your account is not assigned to a center")
		return "", false
	}
	return centerID, true
}

// loadVisit fetches a visit the caller may act on and writes the error
// response itself when it returns false.
func loadVisit(c *gin.Context, db *gorm.DB, id string) (*models.Visit, bool) {
	centerID, ok := centerScope(c)
	if !ok {
		return nil, false
	}

	var visit models.Visit
	if err := db.WithContext(c.Request.Context()).First(&visit, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Visit not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return nil, false
	}
	if centerID != "" && visit.CenterID != centerID {
		utils.Forbidden(c, "Visit belongs to another center")
		return nil, false
	}
	return &visit, true
}

// withoutDispense excludes visits that already reached the pharmacy.
func withoutDispense(db *gorm.DB) *gorm.DB {
	return db.Where("NOT EXISTS (SELECT 1 FROM pharmacy_dispenses pd WHERE pd.visit_id = visits.id)")
}

// publish stamps the caller on e and sends it. Failures are logged only.
func publish(c *gin.Context, p events.Publisher, logger zerolog.Logger, e events.Event) {
	actor := actorFrom(c)
	e.ActorID = actor.UserID
	e.ActorRole = string(actor.Role)
	if err := p.Publish(c.Request.Context(), e); err != nil {
		logger.Warn().Err(err).Str("event", string(e.Type)).Str("visit_id", e.VisitID).Msg("publish event failed")
	}
}

// writeDocumentError maps document pipeline errors to responses.
func writeDocumentError(c *gin.Context, logger zerolog.Logger, err error) {
	var (
		invalid    *documents.ValidationError
		ineligible *documents.IneligibleError
		normalize  *documents.NormalizationError
	)
	switch {
	case errors.Is(err, documents.ErrFileTooLarge):
		utils.PayloadTooLarge(c, err.Error())
	case errors.As(err, &invalid):
		utils.BadRequest(c, err.Error())
	case errors.Is(err, documents.ErrConflict):
		utils.Conflict(c, "A document has already been uploaded for this visit")
	case errors.As(err, &ineligible):
		utils.UnprocessableEntity(c, ineligible.Reason.Message(), gin.H{"reason": ineligible.Reason})
	case errors.As(err, &normalize):
		utils.UnprocessableEntity(c, "The image could not be processed", nil)
	case errors.Is(err, documents.ErrNotFound):
		utils.NotFound(c, "No document uploaded for this visit")
	case errors.Is(err, workflow.ErrVisitNotFound):
		utils.NotFound(c, "Visit not found")
	case errors.Is(err, security.ErrDecryption):
		utils.InternalServerError(c, "The document could not be decrypted")
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("document operation failed")
		utils.InternalServerError(c, "Failed to process document")
	}
}

// visitStage derives the stage of a visit loaded with its sub-records.
func visitStage(v models.Visit) workflow.Stage {
	return workflow.SnapshotOf(v).Stage()
}
