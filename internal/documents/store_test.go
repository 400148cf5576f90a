package documents

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-center-server/internal/models"
	"medical-center-server/internal/security"
	"medical-center-server/internal/testutil"
	"medical-center-server/internal/workflow"
)

func TestGormStore_PutGet(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.SeedVisit(t, db)
	store := NewGormStore(db)
	ctx := context.Background()

	_, err := store.Get(ctx, f.Visit.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	doc := &Document{
		VisitID:      f.Visit.ID,
		Ciphertext:   []byte{1, 2, 3, 4},
		IV:           make([]byte, security.IVSize),
		MimeType:     "application/pdf",
		UploadedBy:   "nurse-1",
		UploadedRole: models.RoleNurse,
	}
	require.NoError(t, store.Put(ctx, doc))
	assert.NotEmpty(t, doc.ID)

	got, err := store.Get(ctx, f.Visit.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Ciphertext, got.Ciphertext)
	assert.Equal(t, doc.IV, got.IV)
	assert.Equal(t, models.RoleNurse, got.UploadedRole)

	err = store.Put(ctx, &Document{VisitID: f.Visit.ID, Ciphertext: []byte{9}, IV: []byte{9}, MimeType: "image/jpeg"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGormStore_ConcurrentUploadsThroughService(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.SeedVisit(t, db)
	testutil.AddNurseRecord(t, db, f.Visit.ID)

	// Both attempts pass the gate before either writes.
	reader := staticReader{snap: workflow.Snapshot{HasNurseRecord: true}}
	svc := newTestService(t, reader, NewGormStore(db))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Upload(context.Background(), f.Visit.ID, Upload{Data: samplePDF, ContentType: "application/pdf"}, nurseActor, workflow.NurseUpload)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, ErrConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	var count int64
	require.NoError(t, db.Model(&models.VisitDocument{}).Where("visit_id = ?", f.Visit.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestService_WithGormReader(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.SeedVisit(t, db)
	testutil.AddNurseRecord(t, db, f.Visit.ID)
	testutil.AddDoctorRecord(t, db, f.Visit.ID)

	svc := newTestService(t, workflow.NewGormReader(db), NewGormStore(db))
	_, err := svc.Upload(context.Background(), f.Visit.ID, Upload{Data: samplePDF, ContentType: "application/pdf"}, nurseActor, workflow.NurseUpload)

	var inel *IneligibleError
	require.ErrorAs(t, err, &inel)
	assert.Equal(t, workflow.ReasonAlreadyHasDoctorRecord, inel.Reason)

	var count int64
	require.NoError(t, db.Model(&models.VisitDocument{}).Count(&count).Error)
	assert.Zero(t, count)

	pharmacist := Actor{UserID: "ph-1", Role: models.RolePharmacist}
	_, err = svc.Upload(context.Background(), f.Visit.ID, Upload{Data: samplePDF, ContentType: "application/pdf"}, pharmacist, workflow.PharmacistUpload)
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), f.Visit.ID, Upload{Data: samplePDF, ContentType: "application/pdf"}, pharmacist, workflow.PharmacistUpload)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGormDirectory(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.SeedVisit(t, db)

	fields, err := security.NewFieldCipher(make([]byte, 32), make([]byte, 32))
	require.NoError(t, err)
	enc, err := fields.Encrypt("987654321")
	require.NoError(t, err)
	require.NoError(t, db.Model(&f.Patient).Update("id_number", enc).Error)

	dir := NewGormDirectory(db, fields)
	info, err := dir.DownloadInfo(context.Background(), f.Visit.ID)
	require.NoError(t, err)
	assert.Equal(t, "987654321", info.PatientIDNumber)
	assert.Equal(t, "2024-03-05", info.VisitedAt.UTC().Format("2006-01-02"))

	_, err = dir.DownloadInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrVisitNotFound)
}
