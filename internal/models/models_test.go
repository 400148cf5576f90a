package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("UNIQUE constraint failed: visit_documents.visit_id"), true},
		{errors.New("Error 1062 (23000): Duplicate entry 'x' for key 'idx_visit_documents_visit_id'"), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "idx_visit_documents_visit_id" (SQLSTATE 23505)`), true},
		{gorm.ErrRecordNotFound, false},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsUniqueViolation(tc.err), "%v", tc.err)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleWriter, RoleNurse, RoleDoctor, RolePharmacist} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("patient").Valid())
	assert.False(t, Role("").Valid())
}

func TestUserPasswordAndSanitize(t *testing.T) {
	centerID := "c-1"
	u := User{
		BaseModel: BaseModel{ID: "u-1"},
		Name:      "Nour",
		Username:  "nour",
		Role:      RoleNurse,
		CenterID:  &centerID,
		Center:    &Center{Name: "North Point"},
		IsActive:  true,
	}
	require.NoError(t, u.SetPassword("s3cret-pass"))
	assert.NotEqual(t, "s3cret-pass", u.Password)
	assert.True(t, u.CheckPassword("s3cret-pass"))
	assert.False(t, u.CheckPassword("wrong"))

	s := u.Sanitize()
	assert.Equal(t, "c-1", s.CenterID)
	assert.Equal(t, "North Point", s.CenterName)
	assert.Equal(t, RoleNurse, s.Role)
}

func TestBeforeCreateAssignsUUID(t *testing.T) {
	b := &BaseModel{}
	require.NoError(t, b.BeforeCreate(nil))
	assert.Len(t, b.ID, 36)

	kept := &BaseModel{ID: "fixed"}
	require.NoError(t, kept.BeforeCreate(nil))
	assert.Equal(t, "fixed", kept.ID)
}
