package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medical-center-server/internal/archive"
	"medical-center-server/internal/config"
	"medical-center-server/internal/documents"
	"medical-center-server/internal/events"
	"medical-center-server/internal/models"
	"medical-center-server/internal/reports"
	"medical-center-server/internal/routes"
	"medical-center-server/internal/security"
	"medical-center-server/internal/testutil"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

const testMaxUpload = 256 << 10

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// memoryArchiver keeps archived objects by visit id.
type memoryArchiver struct {
	mu        sync.Mutex
	objects   map[string]archive.Object
	removeErr error
}

func (a *memoryArchiver) Archive(_ context.Context, obj archive.Object) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[obj.VisitID] = obj
	return nil
}

func (a *memoryArchiver) Remove(_ context.Context, visitID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.removeErr != nil {
		return a.removeErr
	}
	delete(a.objects, visitID)
	return nil
}

func (a *memoryArchiver) has(visitID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[visitID]
	return ok
}

type harness struct {
	t      *testing.T
	db     *gorm.DB
	cfg    *config.Config
	fields *security.FieldCipher
	pub    *recordingPublisher
	arch   *memoryArchiver
	router *gin.Engine
	center models.Center
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	fields, err := security.NewFieldCipher(bytes.Repeat([]byte{1}, 32), []byte("index"))
	require.NoError(t, err)
	blobs, err := security.NewBlobCipher(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:               "test",
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 1,
	}
	pub := &recordingPublisher{}
	arch := &memoryArchiver{objects: map[string]archive.Object{}}
	reader := workflow.NewGormReader(db)
	docs := documents.NewService(documents.Dependencies{
		Reader:    reader,
		Store:     documents.NewGormStore(db),
		Cipher:    blobs,
		Directory: documents.NewGormDirectory(db, fields),
		Archiver:  arch,
		Publisher: pub,
		MaxBytes:  testMaxUpload,
		Logger:    zerolog.Nop(),
	})

	router := gin.New()
	routes.SetupRoutes(router, routes.Dependencies{
		DB:        db,
		Cfg:       cfg,
		Logger:    zerolog.Nop(),
		Fields:    fields,
		Reader:    reader,
		Documents: docs,
		Archiver:  arch,
		Reports:   reports.NewService(db, fields),
		Events:    pub,
	})

	h := &harness{t: t, db: db, cfg: cfg, fields: fields, pub: pub, arch: arch, router: router}
	h.center = h.newCenter("Gaza North")
	return h
}

func (h *harness) newCenter(name string) models.Center {
	c := models.Center{Name: name}
	require.NoError(h.t, h.db.Create(&c).Error)
	return c
}

// staff creates an active user and returns it with an access token.
func (h *harness) staff(role models.Role, center *models.Center) (models.User, string) {
	h.t.Helper()
	u := models.User{
		Name:     string(role) + " user",
		Username: fmt.Sprintf("%s-%s", role, models.NewID()[:8]),
		Role:     role,
		IsActive: true,
	}
	if center != nil {
		u.CenterID = &center.ID
	}
	require.NoError(h.t, u.SetPassword("password123"))
	require.NoError(h.t, h.db.Create(&u).Error)
	token, _, err := utils.GenerateTokens(&u, h.cfg)
	require.NoError(h.t, err)
	return u, token
}

func (h *harness) request(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) upload(path, token, contentType string, data []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="prescription"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
