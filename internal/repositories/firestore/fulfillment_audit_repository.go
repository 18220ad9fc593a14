package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	"github.com/registry-certs/api/internal/domain"
	pfirestore "github.com/registry-certs/api/internal/platform/firestore"
	"github.com/registry-certs/api/internal/repositories"
)

const fulfillmentAuditCollection = "fulfillmentAudit"

// FulfillmentAuditRepository appends operator action records. Entries are
// immutable once written; there is no update or delete path.
type FulfillmentAuditRepository struct {
	base  *pfirestore.BaseRepository[fulfillmentAuditDocument]
	clock func() time.Time
	idGen func() string
}

// FulfillmentAuditRepositoryOption customises repository behaviour.
type FulfillmentAuditRepositoryOption func(*FulfillmentAuditRepository)

// WithFulfillmentAuditClock injects a custom clock, primarily for tests.
func WithFulfillmentAuditClock(clock func() time.Time) FulfillmentAuditRepositoryOption {
	return func(r *FulfillmentAuditRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithFulfillmentAuditIDGenerator overrides entry id generation.
func WithFulfillmentAuditIDGenerator(gen func() string) FulfillmentAuditRepositoryOption {
	return func(r *FulfillmentAuditRepository) {
		if gen != nil {
			r.idGen = gen
		}
	}
}

// NewFulfillmentAuditRepository constructs a Firestore-backed audit repository.
func NewFulfillmentAuditRepository(provider *pfirestore.Provider, opts ...FulfillmentAuditRepositoryOption) (*FulfillmentAuditRepository, error) {
	if provider == nil {
		return nil, errors.New("fulfillment audit repository requires firestore provider")
	}
	repo := &FulfillmentAuditRepository{
		base:  pfirestore.NewBaseRepository[fulfillmentAuditDocument](provider, fulfillmentAuditCollection),
		clock: time.Now,
		idGen: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Append writes a new audit entry.
func (r *FulfillmentAuditRepository) Append(ctx context.Context, entry domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error) {
	if r == nil || r.base == nil {
		return domain.FulfillmentAuditEntry{}, errors.New("fulfillment audit repository not initialised")
	}
	if strings.TrimSpace(entry.OrderKey) == "" {
		return domain.FulfillmentAuditEntry{}, errors.New("fulfillment audit repository: order key is required")
	}
	if entry.Action == "" {
		return domain.FulfillmentAuditEntry{}, errors.New("fulfillment audit repository: action is required")
	}

	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" {
		entry.ID = r.idGen()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock().UTC()
	}

	if _, err := r.base.Set(ctx, entry.ID, encodeFulfillmentAuditDocument(entry)); err != nil {
		return domain.FulfillmentAuditEntry{}, err
	}
	return entry, nil
}

// ListByOrder returns audit entries for one order, most recent first.
func (r *FulfillmentAuditRepository) ListByOrder(ctx context.Context, orderKey string, pager domain.Pagination) (domain.CursorPage[domain.FulfillmentAuditEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.FulfillmentAuditEntry]{}, errors.New("fulfillment audit repository not initialised")
	}
	orderKey = strings.TrimSpace(orderKey)
	if orderKey == "" {
		return domain.CursorPage[domain.FulfillmentAuditEntry]{}, errors.New("fulfillment audit repository: order key is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.FulfillmentAuditEntry]{}, fmt.Errorf("fulfillment audit repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderKey", "==", orderKey).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.FulfillmentAuditEntry]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeOrderListToken(last.Data.CreatedAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.FulfillmentAuditEntry, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeFulfillmentAuditDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.FulfillmentAuditEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

var _ repositories.FulfillmentAuditRepository = (*FulfillmentAuditRepository)(nil)

type fulfillmentAuditDocument struct {
	OrderKey  string    `firestore:"orderKey"`
	OrderID   string    `firestore:"orderId"`
	Action    string    `firestore:"action"`
	Operator  string    `firestore:"operator"`
	Outcome   string    `firestore:"outcome"`
	Detail    string    `firestore:"detail,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeFulfillmentAuditDocument(entry domain.FulfillmentAuditEntry) fulfillmentAuditDocument {
	return fulfillmentAuditDocument{
		OrderKey:  strings.TrimSpace(entry.OrderKey),
		OrderID:   strings.TrimSpace(entry.OrderID),
		Action:    string(entry.Action),
		Operator:  strings.TrimSpace(entry.Operator),
		Outcome:   strings.TrimSpace(entry.Outcome),
		Detail:    strings.TrimSpace(entry.Detail),
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func decodeFulfillmentAuditDocument(id string, doc fulfillmentAuditDocument) domain.FulfillmentAuditEntry {
	return domain.FulfillmentAuditEntry{
		ID:        id,
		OrderKey:  doc.OrderKey,
		OrderID:   doc.OrderID,
		Action:    domain.FulfillmentAction(doc.Action),
		Operator:  doc.Operator,
		Outcome:   doc.Outcome,
		Detail:    doc.Detail,
		CreatedAt: doc.CreatedAt,
	}
}
