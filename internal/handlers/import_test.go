package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-center-server/internal/handlers"
	"medical-center-server/internal/models"
	"medical-center-server/internal/workflow"
)

func (h *harness) importFile(token, centerID string, file []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if centerID != "" {
		require.NoError(h.t, mw.WriteField("centerId", centerID))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "patients.json")
		require.NoError(h.t, err)
		_, err = part.Write(file)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/patients", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func offlinePatients(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal([]gin.H{
		{
			"idNumber": "987654321", "fullName": "Huda Salem", "dob": "1990-02-14", "gender": "female",
			"isPregnant": true, "phoneNumber": "0599000000",
			"visits": []gin.H{
				{
					"visitId": "offline-visit-1", "date": "2024-01-10", "nurseNote": "bp 120/80",
					"diagnosis": "anemia", "medications": "iron",
					"dispenses": []gin.H{{"medicine": "Ferrous sulfate", "quantity": 2}},
				},
				{
					"visitId": "offline-visit-2", "date": "2024-02-03", "diagnosis": "follow-up",
					"dispenses": []gin.H{{"medicine": "ferrous sulfate", "quantity": 1}, {"medicine": "Folic acid", "quantity": 1}},
				},
			},
		},
		{
			"idNumber": "123123123", "fullName": "Sami Odeh", "dob": "1978-07-01", "gender": "male",
			"visits": []gin.H{
				{
					"visitId": "offline-visit-3", "date": "2024-02-05", "diagnosis": "cough",
					"dispenses": []gin.H{{"medicine": "Paracetamol", "quantity": 1}},
				},
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestImportPatients(t *testing.T) {
	h := newHarness(t)
	_, admin := h.staff(models.RoleAdmin, nil)
	_, writer := h.staff(models.RoleWriter, &h.center)
	_, pharmacist := h.staff(models.RolePharmacist, &h.center)
	file := offlinePatients(t)

	w := h.importFile(admin, h.center.ID, file)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, handlers.ImportResult{AddedPatients: 2, AddedVisits: 3}, decode[handlers.ImportResult](t, w))

	// Identifying fields are encrypted and found through the blind index.
	var stored models.Patient
	require.NoError(t, h.db.Where("id_number_hash = ?", h.fields.BlindIndex("987654321")).First(&stored).Error)
	assert.NotContains(t, stored.FullName, "Huda")
	w = h.request(http.MethodGet, "/api/v1/patients/by-id/987654321", writer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Huda Salem", decode[handlers.PatientResponse](t, w).FullName)

	// Imported visits are complete and stay out of the live queues.
	w = h.request(http.MethodGet, "/api/v1/visits/offline-visit-2/stage", writer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stage := decode[handlers.StageResponse](t, w)
	assert.Equal(t, workflow.StageDispensed, stage.Stage)
	assert.EqualValues(t, 2, stage.DispenseCount)

	w = h.request(http.MethodGet, "/api/v1/pharmacy/waiting-visits", pharmacist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]handlers.VisitSummary](t, w))

	var medicines int64
	require.NoError(t, h.db.Model(&models.Medicine{}).Count(&medicines).Error)
	assert.EqualValues(t, 3, medicines)

	// Importing the same file again changes nothing.
	w = h.importFile(admin, h.center.ID, file)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, handlers.ImportResult{ExistingPatients: 2, SkippedVisits: 3}, decode[handlers.ImportResult](t, w))

	var visits, dispenses int64
	require.NoError(t, h.db.Model(&models.Visit{}).Count(&visits).Error)
	require.NoError(t, h.db.Model(&models.PharmacyDispense{}).Count(&dispenses).Error)
	assert.EqualValues(t, 3, visits)
	assert.EqualValues(t, 4, dispenses)
}

func TestImportPatientsRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	_, admin := h.staff(models.RoleAdmin, nil)
	_, writer := h.staff(models.RoleWriter, &h.center)
	file := offlinePatients(t)

	tests := []struct {
		name     string
		centerID string
		file     []byte
		want     int
	}{
		{"no file", h.center.ID, nil, http.StatusBadRequest},
		{"no center", "", file, http.StatusBadRequest},
		{"unknown center", "missing", file, http.StatusBadRequest},
		{"not json", h.center.ID, []byte("idNumber,fullName"), http.StatusBadRequest},
		{"invalid id number", h.center.ID, []byte(`[{"idNumber":"12","fullName":"A","dob":"2000-01-01","gender":"male"}]`), http.StatusBadRequest},
		{"visit without dispense", h.center.ID, []byte(`[{"idNumber":"111111111","fullName":"A","dob":"2000-01-01","gender":"male","visits":[{"visitId":"v1","date":"2024-01-01"}]}]`), http.StatusBadRequest},
		{"pregnant male", h.center.ID, []byte(`[{"idNumber":"111111111","fullName":"A","dob":"2000-01-01","gender":"male","isPregnant":true}]`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.importFile(admin, tt.centerID, tt.file)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, http.StatusForbidden, h.importFile(writer, h.center.ID, file).Code)

	var patients int64
	require.NoError(t, h.db.Model(&models.Patient{}).Count(&patients).Error)
	assert.Zero(t, patients)
}
