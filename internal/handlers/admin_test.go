package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-center-server/internal/handlers"
	"medical-center-server/internal/models"
	"medical-center-server/internal/reports"
)

func TestLogin(t *testing.T) {
	h := newHarness(t)
	user, _ := h.staff(models.RoleNurse, &h.center)

	w := h.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": user.Username, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.LoginResponse](t, w)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, h.center.ID, resp.User.CenterID)
	assert.Equal(t, "Gaza North", resp.User.CenterName)

	w = h.request(http.MethodGet, "/api/v1/auth/profile", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.Username, decode[models.UserSanitized](t, w).Username)

	w = h.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": user.Username, "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "nobody", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshTokenRotation(t *testing.T) {
	h := newHarness(t)
	user, _ := h.staff(models.RoleWriter, &h.center)

	w := h.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": user.Username, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[handlers.LoginResponse](t, w)

	w = h.request(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := decode[handlers.RefreshTokenResponse](t, w)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// The old token is revoked by rotation.
	w = h.request(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.request(http.MethodPost, "/api/v1/auth/logout", rotated.AccessToken, gin.H{"refreshToken": rotated.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.request(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisabledUser(t *testing.T) {
	h := newHarness(t)
	admin, adminToken := h.staff(models.RoleAdmin, nil)
	nurse, nurseToken := h.staff(models.RoleNurse, &h.center)

	w := h.request(http.MethodPatch, "/api/v1/users/"+nurse.ID+"/disable", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[models.UserSanitized](t, w).IsActive)

	// Existing access tokens stop working and login is refused.
	w = h.request(http.MethodGet, "/api/v1/nurse/waiting-visits", nurseToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": nurse.Username, "password": "password123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.request(http.MethodPatch, "/api/v1/users/"+nurse.ID+"/enable", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.request(http.MethodGet, "/api/v1/nurse/waiting-visits", nurseToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.request(http.MethodPatch, "/api/v1/users/"+admin.ID+"/disable", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoleGuards(t *testing.T) {
	h := newHarness(t)
	_, nurse := h.staff(models.RoleNurse, &h.center)

	w := h.request(http.MethodGet, "/api/v1/users", nurse, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.request(http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.request(http.MethodGet, "/api/v1/users", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateUserAndCenter(t *testing.T) {
	h := newHarness(t)
	_, admin := h.staff(models.RoleAdmin, nil)

	w := h.request(http.MethodPost, "/api/v1/centers", admin, gin.H{"name": "Deir al-Balah"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	center := decode[models.Center](t, w)

	w = h.request(http.MethodPost, "/api/v1/centers", admin, gin.H{"name": "Deir al-Balah"})
	assert.Equal(t, http.StatusConflict, w.Code)

	body := gin.H{"name": "Sara", "username": "sara", "password": "password123", "role": "pharmacist", "centerId": center.ID}
	w = h.request(http.MethodPost, "/api/v1/users", admin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Deir al-Balah", decode[models.UserSanitized](t, w).CenterName)

	w = h.request(http.MethodPost, "/api/v1/users", admin, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	delete(body, "centerId")
	body["username"] = "sara2"
	w = h.request(http.MethodPost, "/api/v1/users", admin, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["role"] = "patient"
	w = h.request(http.MethodPost, "/api/v1/users", admin, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.request(http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.UserSanitized](t, w), 2)
}

func TestDoctorsListedForWriter(t *testing.T) {
	h := newHarness(t)
	other := h.newCenter("Jabalia")
	_, writer := h.staff(models.RoleWriter, &h.center)
	mine, _ := h.staff(models.RoleDoctor, &h.center)
	h.staff(models.RoleDoctor, &other)

	w := h.request(http.MethodGet, "/api/v1/users/doctors", writer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doctors := decode[[]models.UserSanitized](t, w)
	require.Len(t, doctors, 1)
	assert.Equal(t, mine.ID, doctors[0].ID)
}

func TestReportEndpoints(t *testing.T) {
	h := newHarness(t)
	_, writer := h.staff(models.RoleWriter, &h.center)
	_, admin := h.staff(models.RoleAdmin, nil)
	_, pharmacist := h.staff(models.RolePharmacist, &h.center)
	h.registerVisit(writer, "")

	w := h.request(http.MethodGet, "/api/v1/statistics/initial", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[reports.Stats](t, w)
	assert.EqualValues(t, 1, stats.TotalPatients)
	assert.EqualValues(t, 1, stats.PregnantPatients)

	w = h.request(http.MethodPost, "/api/v1/reports/custom", admin, gin.H{"reportType": "patient"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Amal Haddad")

	w = h.request(http.MethodPost, "/api/v1/reports/custom", admin, gin.H{"reportType": "visit", "period": "daily", "day": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.request(http.MethodPost, "/api/v1/reports/custom", admin, gin.H{"reportType": "summary"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.request(http.MethodPost, "/api/v1/reports/custom", pharmacist, gin.H{"reportType": "patient"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.request(http.MethodPost, "/api/v1/reports/medicines", pharmacist, gin.H{})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.request(http.MethodGet, "/api/v1/visits/recent-admin", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]reports.RecentVisit](t, w), 1)

	w = h.request(http.MethodGet, "/api/v1/statistics/new-patients-monthly?month=13", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
