package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role enum
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleWriter     Role = "writer"
	RoleNurse      Role = "nurse"
	RoleDoctor     Role = "doctor"
	RolePharmacist Role = "pharmacist"
)

// Valid reports whether r is one of the known staff roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleWriter, RoleNurse, RoleDoctor, RolePharmacist:
		return true
	}
	return false
}

// Center is a medical center (clinic point) that owns visits and staff.
type Center struct {
	BaseModel
	Name string `gorm:"uniqueIndex;size:150;not null" json:"name"`
}

// User represents a staff member
type User struct {
	BaseModel
	Name     string  `gorm:"size:150;not null" json:"name"`
	Username string  `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password string  `gorm:"size:255;not null" json:"-"` // Never send password in JSON
	Role     Role    `gorm:"size:20;not null" json:"role"`
	CenterID *string `gorm:"size:36;index" json:"centerId,omitempty"`
	IsActive bool    `gorm:"not null;default:true" json:"isActive"`

	// Relations (not always preloaded)
	Center        *Center        `gorm:"foreignKey:CenterID" json:"-"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"-"`
}

// UserSanitized represents the user data that is safe to send in API responses.
type UserSanitized struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	CenterID   string    `json:"centerId,omitempty"`
	CenterName string    `json:"centerName,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SetPassword hashes a password and sets it on the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword compares a password with the user's hashed password
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// Sanitize creates a UserSanitized struct from a User model, excluding sensitive data.
func (u *User) Sanitize() UserSanitized {
	s := UserSanitized{
		ID:        u.ID,
		Name:      u.Name,
		Username:  u.Username,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
	if u.CenterID != nil {
		s.CenterID = *u.CenterID
	}
	if u.Center != nil {
		s.CenterName = u.Center.Name
	}
	return s
}
