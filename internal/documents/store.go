package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medical-center-server/internal/models"
)

// Document is an encrypted visit document as held by a Store.
type Document struct {
	ID           string
	VisitID      string
	Ciphertext   []byte
	IV           []byte
	MimeType     string
	UploadedBy   string
	UploadedRole models.Role
	CreatedAt    time.Time
}

// Store persists at most one document per visit. Documents are immutable:
// there is no update, and deletion only happens with the owning visit.
type Store interface {
	// Put fails with ErrConflict if the visit already has a document.
	Put(ctx context.Context, doc *Document) error
	// Get fails with ErrNotFound if the visit has no document.
	Get(ctx context.Context, visitID string) (*Document, error)
}

// GormStore keeps documents in the visit_documents table. The unique index on
// visit_id is what decides concurrent uploads for the same visit.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Put implements Store.
func (s *GormStore) Put(ctx context.Context, doc *Document) error {
	row := models.VisitDocument{
		VisitID:       doc.VisitID,
		EncryptedData: doc.Ciphertext,
		IV:            doc.IV,
		MimeType:      doc.MimeType,
		UploadedBy:    doc.UploadedBy,
		UploadedRole:  doc.UploadedRole,
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if models.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert document: %w", err)
	}
	doc.ID = row.ID
	doc.CreatedAt = row.CreatedAt
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, visitID string) (*Document, error) {
	var row models.VisitDocument
	err := s.DB.WithContext(ctx).Where("visit_id = ?", visitID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &Document{
		ID:           row.ID,
		VisitID:      row.VisitID,
		Ciphertext:   row.EncryptedData,
		IV:           row.IV,
		MimeType:     row.MimeType,
		UploadedBy:   row.UploadedBy,
		UploadedRole: row.UploadedRole,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.VisitID]; ok {
		return ErrConflict
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()
	s.docs[doc.VisitID] = cloneDocument(doc)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, visitID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[visitID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cloneDocument(d *Document) *Document {
	c := *d
	c.Ciphertext = append([]byte(nil), d.Ciphertext...)
	c.IV = append([]byte(nil), d.IV...)
	return &c
}
