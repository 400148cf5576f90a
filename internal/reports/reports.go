// Package reports answers the administrative statistics and report queries.
package reports

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"medical-center-server/internal/models"
	"medical-center-server/internal/workflow"
)

// ErrInvalidReportType is returned for an unknown custom report type.
var ErrInvalidReportType = errors.New("invalid report type")

const (
	TypePatient = "patient"
	TypeVisit   = "visit"
)

// Decrypter opens encrypted patient and clinical columns.
type Decrypter interface {
	Decrypt(value string) (string, error)
}

// Service runs report queries.
type Service struct {
	DB     *gorm.DB
	Fields Decrypter
	Now    func() time.Time
}

// NewService creates a Service.
func NewService(db *gorm.DB, fields Decrypter) *Service {
	return &Service{DB: db, Fields: fields, Now: time.Now}
}

// Stats are the headline counts shown on the admin dashboard.
type Stats struct {
	TotalPatients    int64 `json:"totalPatients"`
	TotalVisits      int64 `json:"totalVisits"`
	FemalePatients   int64 `json:"femalePatients"`
	PregnantPatients int64 `json:"pregnantPatients"`
	DisabledPatients int64 `json:"disabledPatients"`
}

// Statistics counts all patients and visits.
func (s *Service) Statistics(ctx context.Context) (*Stats, error) {
	db := s.DB.WithContext(ctx)
	var st Stats
	queries := []struct {
		dst   *int64
		model any
		where map[string]any
	}{
		{&st.TotalPatients, &models.Patient{}, nil},
		{&st.TotalVisits, &models.Visit{}, nil},
		{&st.FemalePatients, &models.Patient{}, map[string]any{"gender": models.GenderFemale}},
		{&st.PregnantPatients, &models.Patient{}, map[string]any{"is_pregnant": true}},
		{&st.DisabledPatients, &models.Patient{}, map[string]any{"has_disability": true}},
	}
	for _, q := range queries {
		tx := db.Model(q.model)
		if q.where != nil {
			tx = tx.Where(q.where)
		}
		if err := tx.Count(q.dst).Error; err != nil {
			return nil, fmt.Errorf("statistics: %w", err)
		}
	}
	return &st, nil
}

// CustomFilter narrows the custom report.
type CustomFilter struct {
	Period
	ReportType    string   `json:"reportType" binding:"required,oneof=patient visit"`
	Centers       []string `json:"points"`
	Gender        string   `json:"gender" binding:"omitempty,oneof=male female"`
	AgeFilter     string   `json:"ageFilter" binding:"omitempty,oneof=lt18 gte18"`
	Pregnant      string   `json:"pregnant" binding:"omitempty,oneof=yes no"`
	Disability    string   `json:"disability" binding:"omitempty,oneof=yes no"`
	MedicalStatus string   `json:"medicalStatus"`
}

// PatientRow is one line of a patient report.
type PatientRow struct {
	FullName       string `json:"fullName"`
	IDNumber       string `json:"idNumber"`
	Gender         string `json:"gender"`
	DateOfBirth    string `json:"dob"`
	Age            int    `json:"age"`
	HasDisability  bool   `json:"hasDisability"`
	DisabilityType string `json:"disabilityType,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	IsPregnant     bool   `json:"isPregnant"`
	VisitsInPeriod int    `json:"visitsInPeriod"`
}

// VisitRow is one line of a visit report.
type VisitRow struct {
	VisitID          string    `json:"visitId"`
	PatientName      string    `json:"patientName"`
	PatientIDNumber  string    `json:"patientIdNumber"`
	Date             time.Time `json:"date"`
	NurseNote        string    `json:"nurseNote"`
	Diagnosis        string    `json:"diagnosis"`
	Medications      string    `json:"medications"`
	Doctor           string    `json:"doctor"`
	Center           string    `json:"center"`
	ServiceType      string    `json:"serviceType"`
	MedicineNames    string    `json:"medicineName,omitempty"`
	Stage            string    `json:"stage"`
	HasDocument      bool      `json:"hasDocument"`
	DocumentMimeType string    `json:"documentMimeType,omitempty"`
}

// CustomReport is the result of CustomReport.
type CustomReport struct {
	Stats      Stats `json:"stats"`
	ReportData any   `json:"reportData"`
}

// CustomReport returns patients, or their visits, matching the filter. Only
// patients with at least one visit in the window are included.
func (s *Service) CustomReport(ctx context.Context, f CustomFilter) (*CustomReport, error) {
	if f.ReportType != TypePatient && f.ReportType != TypeVisit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReportType, f.ReportType)
	}
	window, err := f.Period.Range()
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	adultCutoff := now.AddDate(-18, 0, 0)

	q := s.DB.WithContext(ctx).Model(&models.Patient{})
	if f.Gender != "" {
		q = q.Where("gender = ?", f.Gender)
	}
	switch f.AgeFilter {
	case "lt18":
		q = q.Where("date_of_birth > ?", adultCutoff)
	case "gte18":
		q = q.Where("date_of_birth <= ?", adultCutoff)
	}
	if f.Pregnant != "" {
		q = q.Where("gender = ? AND is_pregnant = ? AND date_of_birth <= ?", models.GenderFemale, f.Pregnant == "yes", adultCutoff)
	}
	if f.Disability != "" {
		q = q.Where("has_disability = ?", f.Disability == "yes")
	}
	if f.MedicalStatus != "" {
		q = q.Where("medical_status = ?", f.MedicalStatus)
	}

	visitScope := func(db *gorm.DB) *gorm.DB {
		if window != nil {
			db = db.Where("visited_at >= ? AND visited_at < ?", window.From, window.To)
		}
		if len(f.Centers) > 0 {
			db = db.Where("center_id IN (?)", s.DB.Model(&models.Center{}).Select("id").Where("name IN ?", f.Centers))
		}
		return db.Order("visited_at desc")
	}

	var patients []models.Patient
	err = q.
		Preload("Visits", visitScope).
		Preload("Visits.Center").
		Preload("Visits.Doctor").
		Preload("Visits.NurseRecord").
		Preload("Visits.DoctorRecord").
		Preload("Visits.Dispenses.Medicine").
		Preload("Visits.Document", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "visit_id", "mime_type")
		}).
		Find(&patients).Error
	if err != nil {
		return nil, fmt.Errorf("custom report: %w", err)
	}

	patients = lo.Filter(patients, func(p models.Patient, _ int) bool { return len(p.Visits) > 0 })
	for i := range patients {
		if err := s.openPatient(&patients[i]); err != nil {
			return nil, err
		}
	}

	report := &CustomReport{
		Stats: Stats{
			TotalPatients:    int64(len(patients)),
			TotalVisits:      int64(lo.SumBy(patients, func(p models.Patient) int { return len(p.Visits) })),
			FemalePatients:   int64(lo.CountBy(patients, func(p models.Patient) bool { return p.Gender == models.GenderFemale })),
			PregnantPatients: int64(lo.CountBy(patients, func(p models.Patient) bool { return p.IsPregnant })),
			DisabledPatients: int64(lo.CountBy(patients, func(p models.Patient) bool { return p.HasDisability })),
		},
	}

	if f.ReportType == TypePatient {
		report.ReportData = lo.Map(patients, func(p models.Patient, _ int) PatientRow {
			return PatientRow{
				FullName:       p.FullName,
				IDNumber:       p.IDNumber,
				Gender:         p.Gender,
				DateOfBirth:    p.DateOfBirth.Format("2006-01-02"),
				Age:            AgeOn(p.DateOfBirth, now),
				HasDisability:  p.HasDisability,
				DisabilityType: p.DisabilityType,
				PhoneNumber:    p.PhoneNumber,
				IsPregnant:     p.IsPregnant,
				VisitsInPeriod: len(p.Visits),
			}
		})
		return report, nil
	}

	rows := make([]VisitRow, 0, report.Stats.TotalVisits)
	for _, p := range patients {
		for _, v := range p.Visits {
			row, err := s.visitRow(p, v)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	report.ReportData = rows
	return report, nil
}

func (s *Service) openPatient(p *models.Patient) error {
	var err error
	if p.FullName, err = s.Fields.Decrypt(p.FullName); err != nil {
		return fmt.Errorf("decrypt patient %s name: %w", p.ID, err)
	}
	if p.IDNumber, err = s.Fields.Decrypt(p.IDNumber); err != nil {
		return fmt.Errorf("decrypt patient %s id number: %w", p.ID, err)
	}
	return nil
}

func (s *Service) visitRow(p models.Patient, v models.Visit) (VisitRow, error) {
	row := VisitRow{
		VisitID:         v.ID,
		PatientName:     p.FullName,
		PatientIDNumber: p.IDNumber,
		Date:            v.VisitedAt,
		Doctor:          "N/A",
		Center:          "N/A",
		ServiceType:     v.ServiceType,
		Stage:           string(workflow.SnapshotOf(v).Stage()),
		HasDocument:     v.Document != nil,
	}
	if v.Doctor != nil {
		row.Doctor = v.Doctor.Name
	}
	if v.Center.ID != "" {
		row.Center = v.Center.Name
	}
	if v.NurseRecord != nil {
		row.NurseNote = v.NurseRecord.Note
	}
	if v.DoctorRecord != nil {
		var err error
		if row.Diagnosis, err = s.Fields.Decrypt(v.DoctorRecord.Diagnosis); err != nil {
			return VisitRow{}, fmt.Errorf("decrypt diagnosis of visit %s: %w", v.ID, err)
		}
		if row.Medications, err = s.Fields.Decrypt(v.DoctorRecord.Medications); err != nil {
			return VisitRow{}, fmt.Errorf("decrypt medications of visit %s: %w", v.ID, err)
		}
	}
	if len(v.Dispenses) > 0 {
		row.MedicineNames = strings.Join(lo.Map(v.Dispenses, func(d models.PharmacyDispense, _ int) string {
			return d.Medicine.Name
		}), ", ")
	}
	if v.Document != nil {
		row.DocumentMimeType = v.Document.MimeType
	}
	return row, nil
}

// MedicineUsage aggregates dispenses of one medicine.
type MedicineUsage struct {
	Name          string `json:"name"`
	DispenseCount int    `json:"dispenseCount"`
	TotalQuantity int    `json:"totalQuantity"`
}

// MedicineFilter narrows the medicine report.
type MedicineFilter struct {
	Period
	Centers []string `json:"centers"`
}

// MedicineReport groups dispenses in the window by medicine name.
func (s *Service) MedicineReport(ctx context.Context, f MedicineFilter) ([]MedicineUsage, error) {
	window, err := f.Period.Range()
	if err != nil {
		return nil, err
	}

	q := s.DB.WithContext(ctx).Preload("Medicine")
	if window != nil {
		q = q.Where("dispensed_at >= ? AND dispensed_at < ?", window.From, window.To)
	}
	if len(f.Centers) > 0 {
		centers := s.DB.Model(&models.Center{}).Select("id").Where("name IN ?", f.Centers)
		q = q.Where("visit_id IN (?)", s.DB.Model(&models.Visit{}).Select("id").Where("center_id IN (?)", centers))
	}

	var dispenses []models.PharmacyDispense
	if err := q.Find(&dispenses).Error; err != nil {
		return nil, fmt.Errorf("medicine report: %w", err)
	}

	grouped := lo.GroupBy(dispenses, func(d models.PharmacyDispense) string { return d.Medicine.Name })
	usage := lo.MapToSlice(grouped, func(name string, ds []models.PharmacyDispense) MedicineUsage {
		return MedicineUsage{
			Name:          name,
			DispenseCount: len(ds),
			TotalQuantity: lo.SumBy(ds, func(d models.PharmacyDispense) int { return d.Quantity }),
		}
	})
	slices.SortFunc(usage, func(a, b MedicineUsage) int { return strings.Compare(a.Name, b.Name) })
	return usage, nil
}

// PatientSummary is a decrypted patient listing entry.
type PatientSummary struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	IDNumber    string    `json:"idNumber"`
	Gender      string    `json:"gender"`
	DateOfBirth time.Time `json:"dob"`
}

// NewPatientsMonthly lists patients whose first visit falls in the month.
func (s *Service) NewPatientsMonthly(ctx context.Context, year int, month time.Month) ([]PatientSummary, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	firstVisits := s.DB.Model(&models.Visit{}).
		Select("patient_id").
		Group("patient_id").
		Having("MIN(visited_at) >= ? AND MIN(visited_at) < ?", from, to)

	var patients []models.Patient
	if err := s.DB.WithContext(ctx).Where("id IN (?)", firstVisits).Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("new patients: %w", err)
	}

	out := make([]PatientSummary, 0, len(patients))
	for i := range patients {
		if err := s.openPatient(&patients[i]); err != nil {
			return nil, err
		}
		p := patients[i]
		out = append(out, PatientSummary{ID: p.ID, FullName: p.FullName, IDNumber: p.IDNumber, Gender: p.Gender, DateOfBirth: p.DateOfBirth})
	}
	return out, nil
}

// RecentVisit is a dashboard line for the latest visits across centers.
type RecentVisit struct {
	VisitID     string    `json:"visitId"`
	PatientName string    `json:"patientName"`
	Diagnosis   string    `json:"diagnosis"`
	Date        time.Time `json:"date"`
}

// RecentVisits returns the latest visits across all centers.
func (s *Service) RecentVisits(ctx context.Context, limit int) ([]RecentVisit, error) {
	var visits []models.Visit
	err := s.DB.WithContext(ctx).
		Preload("Patient").
		Preload("DoctorRecord").
		Order("visited_at desc").
		Limit(limit).
		Find(&visits).Error
	if err != nil {
		return nil, fmt.Errorf("recent visits: %w", err)
	}

	out := make([]RecentVisit, 0, len(visits))
	for _, v := range visits {
		name, err := s.Fields.Decrypt(v.Patient.FullName)
		if err != nil {
			return nil, fmt.Errorf("decrypt patient name: %w", err)
		}
		rv := RecentVisit{VisitID: v.ID, PatientName: name, Date: v.VisitedAt}
		if v.DoctorRecord != nil {
			if rv.Diagnosis, err = s.Fields.Decrypt(v.DoctorRecord.Diagnosis); err != nil {
				return nil, fmt.Errorf("decrypt diagnosis: %w", err)
			}
		}
		out = append(out, rv)
	}
	return out, nil
}
