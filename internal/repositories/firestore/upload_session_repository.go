package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/registry-certs/api/internal/domain"
	pfirestore "github.com/registry-certs/api/internal/platform/firestore"
	"github.com/registry-certs/api/internal/repositories"
)

const uploadSessionCollection = "uploadSessions"

// UploadSessionRepository stores identity-document upload sessions in Firestore.
type UploadSessionRepository struct {
	base     *pfirestore.BaseRepository[uploadSessionDocument]
	provider *pfirestore.Provider
	clock    func() time.Time
	idGen    func() string
}

// UploadSessionRepositoryOption customises repository behaviour.
type UploadSessionRepositoryOption func(*UploadSessionRepository)

// WithUploadSessionClock injects a custom clock, primarily for tests.
func WithUploadSessionClock(clock func() time.Time) UploadSessionRepositoryOption {
	return func(r *UploadSessionRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithUploadSessionIDGenerator overrides session id generation.
func WithUploadSessionIDGenerator(gen func() string) UploadSessionRepositoryOption {
	return func(r *UploadSessionRepository) {
		if gen != nil {
			r.idGen = gen
		}
	}
}

// NewUploadSessionRepository constructs a Firestore-backed upload session repository.
func NewUploadSessionRepository(provider *pfirestore.Provider, opts ...UploadSessionRepositoryOption) (*UploadSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("upload session repository requires firestore provider")
	}
	repo := &UploadSessionRepository{
		base:     pfirestore.NewBaseRepository[uploadSessionDocument](provider, uploadSessionCollection),
		provider: provider,
		clock:    time.Now,
		idGen:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Create persists a new session. A missing id gets a generated ULID.
func (r *UploadSessionRepository) Create(ctx context.Context, session domain.UploadSession) (domain.UploadSession, error) {
	if r == nil || r.base == nil {
		return domain.UploadSession{}, errors.New("upload session repository not initialised")
	}

	session.ID = strings.TrimSpace(session.ID)
	if session.ID == "" {
		session.ID = r.idGen()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.clock().UTC()
	}

	if _, err := r.base.Set(ctx, session.ID, encodeUploadSessionDocument(session)); err != nil {
		return domain.UploadSession{}, err
	}
	return session, nil
}

// FindByID fetches a session by its id.
func (r *UploadSessionRepository) FindByID(ctx context.Context, sessionID string) (domain.UploadSession, error) {
	if r == nil || r.base == nil {
		return domain.UploadSession{}, errors.New("upload session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.UploadSession{}, errors.New("upload session repository: session id is required")
	}

	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.UploadSession{}, err
	}
	return decodeUploadSessionDocument(doc.ID, doc.Data), nil
}

// AddAttachment appends a file reference to the session inside a transaction.
func (r *UploadSessionRepository) AddAttachment(ctx context.Context, sessionID string, attachment domain.UploadAttachment) (domain.UploadSession, error) {
	if r == nil || r.provider == nil {
		return domain.UploadSession{}, errors.New("upload session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.UploadSession{}, errors.New("upload session repository: session id is required")
	}
	if strings.TrimSpace(attachment.ObjectPath) == "" {
		return domain.UploadSession{}, errors.New("upload session repository: attachment object path is required")
	}

	attachment.ID = strings.TrimSpace(attachment.ID)
	if attachment.ID == "" {
		attachment.ID = r.idGen()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = r.clock().UTC()
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.UploadSession{}, err
	}
	ref := client.Collection(uploadSessionCollection).Doc(sessionID)

	var updated domain.UploadSession
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc uploadSessionDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		doc.Attachments = append(doc.Attachments, encodeUploadAttachment(attachment))
		if err := tx.Update(ref, []firestore.Update{
			{Path: "attachments", Value: doc.Attachments},
		}); err != nil {
			return err
		}
		updated = decodeUploadSessionDocument(sessionID, doc)
		return nil
	})
	if err != nil {
		return domain.UploadSession{}, pfirestore.WrapError("upload_sessions.add_attachment", err)
	}
	return updated, nil
}

// RemoveAttachment drops a single file reference from the session. Removing an
// attachment that is not present reports not found.
func (r *UploadSessionRepository) RemoveAttachment(ctx context.Context, sessionID, attachmentID string) (domain.UploadSession, error) {
	if r == nil || r.provider == nil {
		return domain.UploadSession{}, errors.New("upload session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	attachmentID = strings.TrimSpace(attachmentID)
	if sessionID == "" {
		return domain.UploadSession{}, errors.New("upload session repository: session id is required")
	}
	if attachmentID == "" {
		return domain.UploadSession{}, errors.New("upload session repository: attachment id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.UploadSession{}, err
	}
	ref := client.Collection(uploadSessionCollection).Doc(sessionID)

	var updated domain.UploadSession
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc uploadSessionDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		remaining := doc.Attachments[:0]
		found := false
		for _, attachment := range doc.Attachments {
			if attachment.ID == attachmentID {
				found = true
				continue
			}
			remaining = append(remaining, attachment)
		}
		if !found {
			return status.Error(codes.NotFound, "attachment not found")
		}

		doc.Attachments = remaining
		if err := tx.Update(ref, []firestore.Update{
			{Path: "attachments", Value: doc.Attachments},
		}); err != nil {
			return err
		}
		updated = decodeUploadSessionDocument(sessionID, doc)
		return nil
	})
	if err != nil {
		return domain.UploadSession{}, pfirestore.WrapError("upload_sessions.remove_attachment", err)
	}
	return updated, nil
}

// AttachOrder links the session to the order that referenced it. A session
// already bound to a different order fails with ErrUploadSessionAttached.
func (r *UploadSessionRepository) AttachOrder(ctx context.Context, sessionID, orderKey string) error {
	if r == nil || r.provider == nil {
		return errors.New("upload session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	orderKey = strings.TrimSpace(orderKey)
	if sessionID == "" {
		return errors.New("upload session repository: session id is required")
	}
	if orderKey == "" {
		return errors.New("upload session repository: order key is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(uploadSessionCollection).Doc(sessionID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc uploadSessionDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.OrderKey != "" && doc.OrderKey != orderKey {
			return repositories.ErrUploadSessionAttached
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "orderKey", Value: orderKey},
		})
	})
	if err != nil {
		if errors.Is(err, repositories.ErrUploadSessionAttached) {
			return repositories.ErrUploadSessionAttached
		}
		return pfirestore.WrapError("upload_sessions.attach_order", err)
	}
	return nil
}

// Delete removes the session document. Deleting the stored objects is the
// caller's responsibility.
func (r *UploadSessionRepository) Delete(ctx context.Context, sessionID string) error {
	if r == nil || r.provider == nil {
		return errors.New("upload session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("upload session repository: session id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(uploadSessionCollection).Doc(sessionID).Delete(ctx); err != nil {
		return pfirestore.WrapError("upload_sessions.delete", err)
	}
	return nil
}

var _ repositories.UploadSessionRepository = (*UploadSessionRepository)(nil)

type uploadSessionDocument struct {
	OrderKey    string                     `firestore:"orderKey,omitempty"`
	Attachments []uploadAttachmentDocument `firestore:"attachments"`
	CreatedAt   time.Time                  `firestore:"createdAt"`
}

type uploadAttachmentDocument struct {
	ID          string    `firestore:"id"`
	Filename    string    `firestore:"filename"`
	ContentType string    `firestore:"contentType"`
	ObjectPath  string    `firestore:"objectPath"`
	UploadedAt  time.Time `firestore:"uploadedAt"`
}

func encodeUploadSessionDocument(session domain.UploadSession) uploadSessionDocument {
	doc := uploadSessionDocument{
		OrderKey:    strings.TrimSpace(session.OrderKey),
		Attachments: make([]uploadAttachmentDocument, 0, len(session.Attachments)),
		CreatedAt:   session.CreatedAt.UTC(),
	}
	for _, attachment := range session.Attachments {
		doc.Attachments = append(doc.Attachments, encodeUploadAttachment(attachment))
	}
	return doc
}

func encodeUploadAttachment(attachment domain.UploadAttachment) uploadAttachmentDocument {
	return uploadAttachmentDocument{
		ID:          attachment.ID,
		Filename:    strings.TrimSpace(attachment.Filename),
		ContentType: strings.TrimSpace(attachment.ContentType),
		ObjectPath:  strings.TrimSpace(attachment.ObjectPath),
		UploadedAt:  attachment.UploadedAt.UTC(),
	}
}

func decodeUploadSessionDocument(id string, doc uploadSessionDocument) domain.UploadSession {
	session := domain.UploadSession{
		ID:          id,
		OrderKey:    doc.OrderKey,
		Attachments: make([]domain.UploadAttachment, 0, len(doc.Attachments)),
		CreatedAt:   doc.CreatedAt,
	}
	for _, attachment := range doc.Attachments {
		session.Attachments = append(session.Attachments, domain.UploadAttachment{
			ID:          attachment.ID,
			Filename:    attachment.Filename,
			ContentType: attachment.ContentType,
			ObjectPath:  attachment.ObjectPath,
			UploadedAt:  attachment.UploadedAt,
		})
	}
	return session
}
