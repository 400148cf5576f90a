package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/utils"
)

// UserHandler handles staff account management.
type UserHandler struct {
	DB     *gorm.DB
	Logger zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, logger zerolog.Logger) *UserHandler {
	return &UserHandler{DB: db, Logger: logger}
}

// CreateUserRequest represents the request body for creating a user by an admin.
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required,min=3,max=100"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin writer nurse doctor pharmacist"`
	CenterID string `json:"centerId"`
}

// CreateUser creates a staff account. Every role except admin needs a center.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user := models.User{
		Name:     req.Name,
		Username: req.Username,
		Role:     models.Role(req.Role),
		IsActive: true,
	}
	if req.CenterID != "" {
		var center models.Center
		if err := h.DB.First(&center, "id = ?", req.CenterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.BadRequest(c, "Center does not exist")
			} else {
				utils.InternalServerError(c, "Database error: "+err.Error())
			}
			return
		}
		user.CenterID = &center.ID
		user.Center = &center
	} else if user.Role != models.RoleAdmin {
		utils.BadRequest(c, "centerId is required for role "+req.Role)
		return
	}

	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalServerError(c, "Failed to hash password: "+err.Error())
		return
	}

	if err := h.DB.Omit("Center").Create(&user).Error; err != nil {
		if models.IsUniqueViolation(err) {
			utils.Conflict(c, "Username is already taken")
			return
		}
		utils.InternalServerError(c, "Failed to create user: "+err.Error())
		return
	}

	h.Logger.Info().Str("user_id", user.ID).Str("role", req.Role).Msg("user created")
	utils.Created(c, "User created successfully", user.Sanitize())
}

// GetUsers lists every staff account with its center.
func (h *UserHandler) GetUsers(c *gin.Context) {
	var users []models.User
	if err := h.DB.Preload("Center").Order("created_at desc").Find(&users).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch users: "+err.Error())
		return
	}

	sanitized := make([]models.UserSanitized, len(users))
	for i := range users {
		sanitized[i] = users[i].Sanitize()
	}
	utils.Success(c, "Users fetched successfully", sanitized)
}

// DisableUser deactivates an account and revokes its refresh tokens.
func (h *UserHandler) DisableUser(c *gin.Context) {
	userID := c.Param("id")
	if self, _ := middleware.GetUserIDFromContext(c); self == userID {
		utils.BadRequest(c, "You cannot disable your own account")
		return
	}
	h.setActive(c, userID, false)
}

// EnableUser reactivates an account.
func (h *UserHandler) EnableUser(c *gin.Context) {
	h.setActive(c, c.Param("id"), true)
}

func (h *UserHandler) setActive(c *gin.Context, userID string, active bool) {
	var user models.User
	if err := h.DB.Preload("Center").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", active).Error; err != nil {
			return err
		}
		if active {
			return nil
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND is_revoked = ?", user.ID, false).
			Update("is_revoked", true).Error
	})
	if err != nil {
		utils.InternalServerError(c, "Failed to update user: "+err.Error())
		return
	}

	user.IsActive = active
	h.Logger.Info().Str("user_id", user.ID).Bool("active", active).Msg("user status changed")
	if active {
		utils.Success(c, "User enabled", user.Sanitize())
	} else {
		utils.Success(c, "User disabled", user.Sanitize())
	}
}

// GetDoctors lists the active doctors of the caller's center, for assigning
// a doctor when a visit is registered.
func (h *UserHandler) GetDoctors(c *gin.Context) {
	centerID, ok := centerScope(c)
	if !ok {
		return
	}

	q := h.DB.Where("role = ? AND is_active = ?", models.RoleDoctor, true)
	if centerID != "" {
		q = q.Where("center_id = ?", centerID)
	}
	var doctors []models.User
	if err := q.Order("name").Find(&doctors).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch doctors: "+err.Error())
		return
	}

	sanitized := make([]models.UserSanitized, len(doctors))
	for i := range doctors {
		sanitized[i] = doctors[i].Sanitize()
	}
	utils.Success(c, "Doctors fetched successfully", sanitized)
}
