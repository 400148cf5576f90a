package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"medical-center-server/internal/archive"
	"medical-center-server/internal/events"
	"medical-center-server/internal/models"
	"medical-center-server/internal/workflow"
)

// DefaultMaxUploadBytes bounds uploads before any decoding happens.
const DefaultMaxUploadBytes = 5 << 20

// AllowedContentTypes lists the upload types accepted for visit documents.
var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// Cipher encrypts document payloads at rest.
type Cipher interface {
	Encrypt(plaintext []byte) (ciphertext, iv []byte, err error)
	Decrypt(ciphertext, iv []byte) ([]byte, error)
}

// Upload is a raw file received from a client.
type Upload struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   models.Role
}

// Receipt describes a stored document.
type Receipt struct {
	DocumentID    string         `json:"documentId"`
	VisitID       string         `json:"visitId"`
	MimeType      string         `json:"mimeType"`
	OriginalBytes int            `json:"originalBytes"`
	StoredBytes   int            `json:"storedBytes"`
	Stage         workflow.Stage `json:"stage"`
	UploadedAt    time.Time      `json:"uploadedAt"`
}

// Content is a decrypted document ready to send.
type Content struct {
	Data     []byte
	MimeType string
	FileName string
}

// Dependencies wires a Service. Archiver, Publisher and Directory are optional.
type Dependencies struct {
	Reader     workflow.Reader
	Store      Store
	Cipher     Cipher
	Normalizer *Normalizer
	Directory  VisitDirectory
	Archiver   archive.Archiver
	Publisher  events.Publisher
	MaxBytes   int64
	Logger     zerolog.Logger
}

// Service runs the document custody pipeline: gate, normalize, encrypt and
// store on the way in; load and decrypt on the way out.
type Service struct {
	reader     workflow.Reader
	store      Store
	cipher     Cipher
	normalizer *Normalizer
	directory  VisitDirectory
	archiver   archive.Archiver
	publisher  events.Publisher
	maxBytes   int64
	logger     zerolog.Logger
}

// NewService creates a Service.
func NewService(d Dependencies) *Service {
	s := &Service{
		reader:     d.Reader,
		store:      d.Store,
		cipher:     d.Cipher,
		normalizer: d.Normalizer,
		directory:  d.Directory,
		archiver:   d.Archiver,
		publisher:  d.Publisher,
		maxBytes:   d.MaxBytes,
		logger:     d.Logger.With().Str("component", "documents").Logger(),
	}
	if s.normalizer == nil {
		s.normalizer = NewNormalizer(0, 0, 0, s.logger)
	}
	if s.archiver == nil {
		s.archiver = archive.Nop{}
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.logger)
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxUploadBytes
	}
	return s
}

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload attaches a document to a visit if gate allows it. Eligibility is
// read fresh on every call; the store's uniqueness decides races between
// concurrent uploads that both passed the gate.
func (s *Service) Upload(ctx context.Context, visitID string, in Upload, actor Actor, gate workflow.Gate) (*Receipt, error) {
	log := s.logger.With().Str("visit_id", visitID).Str("role", string(actor.Role)).Logger()

	mimeType, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	snap, err := s.reader.Snapshot(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if d := gate(snap); !d.Allowed {
		log.Info().Str("reason", string(d.Reason)).Msg("document upload refused by workflow")
		return nil, &IneligibleError{Reason: d.Reason}
	}

	norm, err := s.normalizer.Normalize(in.Data, mimeType)
	if err != nil {
		log.Warn().Err(err).Msg("document normalization failed")
		return nil, err
	}

	ciphertext, iv, err := s.cipher.Encrypt(norm.Data)
	if err != nil {
		return nil, fmt.Errorf("encrypt document: %w", err)
	}

	doc := &Document{
		VisitID:      visitID,
		Ciphertext:   ciphertext,
		IV:           iv,
		MimeType:     norm.MimeType,
		UploadedBy:   actor.UserID,
		UploadedRole: actor.Role,
	}
	if err := s.store.Put(ctx, doc); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Info().Msg("document already uploaded for visit")
		}
		return nil, err
	}

	if err := s.archiver.Archive(ctx, archive.Object{
		VisitID:    visitID,
		DocumentID: doc.ID,
		MimeType:   doc.MimeType,
		Ciphertext: doc.Ciphertext,
		IV:         doc.IV,
	}); err != nil {
		log.Warn().Err(err).Msg("document archive mirror failed")
	}

	snap.HasDocument = true
	e := events.New(events.DocumentUploaded, visitID)
	e.ActorID = actor.UserID
	e.ActorRole = string(actor.Role)
	e.Stage = string(snap.Stage())
	e.Attributes = map[string]string{"mimeType": doc.MimeType}
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Msg("publish document event failed")
	}

	log.Info().
		Str("document_id", doc.ID).
		Str("mime_type", doc.MimeType).
		Int("original_bytes", len(in.Data)).
		Int("stored_bytes", len(doc.Ciphertext)).
		Msg("document stored")

	return &Receipt{
		DocumentID:    doc.ID,
		VisitID:       visitID,
		MimeType:      doc.MimeType,
		OriginalBytes: len(in.Data),
		StoredBytes:   len(doc.Ciphertext),
		Stage:         snap.Stage(),
		UploadedAt:    doc.CreatedAt,
	}, nil
}

// validate checks size and type and returns the effective MIME type. An empty
// declared type falls back to the sniffed one.
func (s *Service) validate(in Upload) (string, error) {
	if len(in.Data) == 0 {
		return "", &ValidationError{Err: ErrEmptyFile}
	}
	if int64(len(in.Data)) > s.maxBytes {
		return "", &ValidationError{Err: fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(in.Data), s.maxBytes)}
	}

	detected := mimetype.Detect(in.Data)
	declared := normalizeContentType(in.ContentType)
	if declared == "" || declared == "application/octet-stream" {
		declared = detected.String()
	}
	if !AllowedContentTypes[declared] {
		return "", &ValidationError{Err: fmt.Errorf("%w: %s", ErrUnsupportedType, declared)}
	}
	if !sniffedAs(detected, declared) {
		return "", &ValidationError{Err: fmt.Errorf("%w: declared %s, detected %s", ErrContentMismatch, declared, detected.String())}
	}
	return declared, nil
}

// sniffedAs reports whether the detected type is declared or a subtype of
// it, e.g. an APNG declared as image/png.
func sniffedAs(detected *mimetype.MIME, declared string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	return false
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

// View returns the decrypted document of a visit.
func (s *Service) View(ctx context.Context, visitID string) (*Content, error) {
	doc, err := s.store.Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.cipher.Decrypt(doc.Ciphertext, doc.IV)
	if err != nil {
		s.logger.Error().Err(err).Str("visit_id", visitID).Str("document_id", doc.ID).Msg("document decryption failed")
		return nil, fmt.Errorf("decrypt document for visit %s: %w", visitID, err)
	}
	return &Content{Data: plaintext, MimeType: doc.MimeType}, nil
}

// Download is View plus a file name built from the patient's id number and
// the visit date.
func (s *Service) Download(ctx context.Context, visitID string) (*Content, error) {
	content, err := s.View(ctx, visitID)
	if err != nil {
		return nil, err
	}

	base := visitID
	if s.directory != nil {
		info, err := s.directory.DownloadInfo(ctx, visitID)
		if err != nil {
			return nil, fmt.Errorf("resolve download name: %w", err)
		}
		base = info.PatientIDNumber + "_" + info.VisitedAt.Format("2006-01-02")
	}
	content.FileName = base + "." + Extension(content.MimeType)
	return content, nil
}

// Extension maps a stored MIME type to a file extension.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}
