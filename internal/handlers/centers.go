package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"medical-center-server/internal/models"
	"medical-center-server/internal/utils"
)

// CenterHandler manages medical centers.
type CenterHandler struct {
	DB *gorm.DB
}

// NewCenterHandler creates a new CenterHandler.
func NewCenterHandler(db *gorm.DB) *CenterHandler {
	return &CenterHandler{DB: db}
}

// CreateCenterRequest is the body of CreateCenter.
type CreateCenterRequest struct {
	Name string `json:"name" binding:"required,max=150"`
}

// CreateCenter adds a center. Names are unique.
func (h *CenterHandler) CreateCenter(c *gin.Context) {
	var req CreateCenterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	center := models.Center{Name: strings.TrimSpace(req.Name)}
	if center.Name == "" {
		utils.BadRequest(c, "Validation failed: Name is required")
		return
	}
	if err := h.DB.Create(&center).Error; err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "A center with this name already exists")
			return
		}
		utils.InternalServerError(c, "Failed to create center: "+err.Error())
		return
	}
	utils.Created(c, "Center created successfully", center)
}

// ListCenters returns all centers ordered by name.
func (h *CenterHandler) ListCenters(c *gin.Context) {
	var centers []models.Center
	if err := h.DB.Order("name").Find(&centers).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch centers: "+err.Error())
		return
	}
	utils.Success(c, "Centers fetched successfully", centers)
}
