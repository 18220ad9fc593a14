package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/registry-certs/api/internal/domain"
	pfirestore "github.com/registry-certs/api/internal/platform/firestore"
	"github.com/registry-certs/api/internal/platform/pagination"
	"github.com/registry-certs/api/internal/repositories"
)

const (
	orderCollection            = "orders"
	orderItemsSubcollection    = "items"
	orderIdempotencyCollection = "orderIdempotency"
)

// OrderRepository persists orders, their item lines, and submission idempotency
// markers in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
	clock    func() time.Time
}

// OrderRepositoryOption customises repository behaviour.
type OrderRepositoryOption func(*OrderRepository)

// WithOrderRepositoryClock injects a custom clock, primarily for tests.
func WithOrderRepositoryClock(clock func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	repo := &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		provider: provider,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Create persists the order document, its item subcollection, and the
// idempotency marker inside one transaction. Reusing an idempotency key fails
// with ErrDuplicateIdempotencyKey without touching the order collection.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	key := strings.TrimSpace(order.Key)
	if key == "" {
		return domain.Order{}, errors.New("order repository: order key is required")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if len(order.Items) == 0 {
		return domain.Order{}, errors.New("order repository: at least one item is required")
	}

	now := r.clock().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	orderRef := client.Collection(orderCollection).Doc(key)
	idemKey := strings.TrimSpace(order.IdempotencyKey)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if idemKey != "" {
			markerRef := client.Collection(orderIdempotencyCollection).Doc(idempotencyDocID(idemKey))
			reusable, err := r.markerReusable(tx, client, markerRef)
			if err != nil {
				return err
			}
			if !reusable {
				return repositories.ErrDuplicateIdempotencyKey
			}
			if err := tx.Set(markerRef, idempotencyMarkerDocument{
				OrderKey:  key,
				OrderID:   order.ID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		if err := tx.Create(orderRef, encodeOrderDocument(order)); err != nil {
			return err
		}

		for i, item := range order.Items {
			itemID := strings.TrimSpace(item.ID)
			if itemID == "" {
				itemID = fmt.Sprintf("line-%03d", i+1)
				order.Items[i].ID = itemID
			}
			itemRef := orderRef.Collection(orderItemsSubcollection).Doc(itemID)
			if err := tx.Create(itemRef, encodeOrderItemDocument(item, i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateIdempotencyKey) {
			return domain.Order{}, repositories.ErrDuplicateIdempotencyKey
		}
		return domain.Order{}, pfirestore.WrapError("orders.create", err)
	}

	return order, nil
}

// markerReusable reports whether a new order may claim the idempotency
// marker. A missing marker is free. An existing marker is reusable only when
// the order it points at was canceled, so a resubmission after a compensating
// cancel creates a fresh order instead of being rejected as a duplicate.
func (r *OrderRepository) markerReusable(tx *firestore.Transaction, client *firestore.Client, markerRef *firestore.DocumentRef) (bool, error) {
	snap, err := tx.Get(markerRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return true, nil
		}
		return false, err
	}
	var marker idempotencyMarkerDocument
	if err := snap.DataTo(&marker); err != nil {
		return false, err
	}
	orderKey := strings.TrimSpace(marker.OrderKey)
	if orderKey == "" {
		return true, nil
	}
	prior, err := tx.Get(client.Collection(orderCollection).Doc(orderKey))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return true, nil
		}
		return false, err
	}
	var doc orderDocument
	if err := prior.DataTo(&doc); err != nil {
		return false, err
	}
	return doc.Status == string(domain.OrderStatusCanceled), nil
}

// FindByKey fetches the order identified by its document key, items included.
func (r *OrderRepository) FindByKey(ctx context.Context, key string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, errors.New("order repository: order key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Order{}, err
	}

	order := decodeOrderDocument(doc.ID, doc.Data)
	items, err := r.loadItems(ctx, key)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// FindByOrderID locates an order by its public id.
func (r *OrderRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orderId", strings.TrimSpace(orderID), "order id")
}

// FindByTransactionID locates an order by the charge id assigned at submission.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	return r.findOne(ctx, "transactionId", strings.TrimSpace(transactionID), "transaction id")
}

// FindByIdempotencyKey resolves the order created under the supplied submission key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, idempotencyKey string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.Order{}, errors.New("order repository: idempotency key is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	snap, err := client.Collection(orderIdempotencyCollection).Doc(idempotencyDocID(idempotencyKey)).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_idempotency_key", err)
	}

	var marker idempotencyMarkerDocument
	if err := snap.DataTo(&marker); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_idempotency_key", err)
	}
	return r.FindByKey(ctx, marker.OrderKey)
}

// UpdateStatus transitions the order lifecycle state inside a transaction,
// enforcing the state machine against the currently stored status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, key string, target domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, errors.New("order repository: order key is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	ref := client.Collection(orderCollection).Doc(key)
	var updated domain.Order

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		current := domain.OrderStatus(doc.Status)
		if !domain.CanTransition(current, target) {
			return repositories.ErrInvalidStatusTransition
		}

		now := r.clock().UTC()
		updates := []firestore.Update{
			{Path: "status", Value: string(target)},
			{Path: "updatedAt", Value: now},
		}
		if update.TransactionID != nil {
			updates = append(updates, firestore.Update{Path: "transactionId", Value: strings.TrimSpace(*update.TransactionID)})
			doc.TransactionID = strings.TrimSpace(*update.TransactionID)
		}
		if update.CancelReason != nil {
			updates = append(updates, firestore.Update{Path: "cancelReason", Value: *update.CancelReason})
			doc.CancelReason = *update.CancelReason
		}
		if update.CanceledAt != nil {
			canceledAt := update.CanceledAt.UTC()
			updates = append(updates, firestore.Update{Path: "canceledAt", Value: canceledAt})
			doc.CanceledAt = &canceledAt
		}
		if update.CapturedAmount != nil {
			updates = append(updates, firestore.Update{Path: "capturedAmount", Value: *update.CapturedAmount})
			doc.CapturedAmount = *update.CapturedAmount
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		doc.Status = string(target)
		doc.UpdatedAt = now
		updated = decodeOrderDocument(key, doc)
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidStatusTransition) {
			return domain.Order{}, repositories.ErrInvalidStatusTransition
		}
		return domain.Order{}, pfirestore.WrapError("orders.update_status", err)
	}

	items, err := r.loadItems(ctx, key)
	if err != nil {
		return domain.Order{}, err
	}
	updated.Items = items
	return updated, nil
}

// RecordPayment stores the asynchronous settlement exactly once. Replays of the
// same processor event leave the document untouched and report recorded=false.
func (r *OrderRepository) RecordPayment(ctx context.Context, key string, payment repositories.PaymentRecord) (domain.Order, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, false, errors.New("order repository: order key is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, false, err
	}

	ref := client.Collection(orderCollection).Doc(key)
	var (
		updated  domain.Order
		recorded bool
	)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		if doc.PaymentRecordedAt != nil {
			recorded = false
			updated = decodeOrderDocument(key, doc)
			return nil
		}

		now := r.clock().UTC()
		recordedAt := payment.RecordedAt.UTC()
		if recordedAt.IsZero() {
			recordedAt = now
		}

		updates := []firestore.Update{
			{Path: "paymentRecordedAt", Value: recordedAt},
			{Path: "updatedAt", Value: now},
		}
		if payment.Amount > 0 {
			updates = append(updates, firestore.Update{Path: "capturedAmount", Value: payment.Amount})
			doc.CapturedAmount = payment.Amount
		}
		if txID := strings.TrimSpace(payment.TransactionID); txID != "" && doc.TransactionID == "" {
			updates = append(updates, firestore.Update{Path: "transactionId", Value: txID})
			doc.TransactionID = txID
		}
		if payment.Captured {
			current := domain.OrderStatus(doc.Status)
			if !domain.CanTransition(current, domain.OrderStatusCaptured) {
				return repositories.ErrInvalidStatusTransition
			}
			updates = append(updates, firestore.Update{Path: "status", Value: string(domain.OrderStatusCaptured)})
			doc.Status = string(domain.OrderStatusCaptured)
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		doc.PaymentRecordedAt = &recordedAt
		doc.UpdatedAt = now
		updated = decodeOrderDocument(key, doc)
		recorded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidStatusTransition) {
			return domain.Order{}, false, repositories.ErrInvalidStatusTransition
		}
		return domain.Order{}, false, pfirestore.WrapError("orders.record_payment", err)
	}

	items, err := r.loadItems(ctx, key)
	if err != nil {
		return domain.Order{}, false, err
	}
	updated.Items = items
	return updated, recorded, nil
}

// List returns a page of orders for the operator review queue, most recent first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if filter.Type != "" {
			q = q.Where("type", "==", string(filter.Type))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func (r *OrderRepository) findOne(ctx context.Context, field, value, label string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, fmt.Errorf("order repository: %s is required", label)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find", status.Error(codes.NotFound, "order not found"))
	}

	order := decodeOrderDocument(docs[0].ID, docs[0].Data)
	items, err := r.loadItems(ctx, docs[0].ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, key string) ([]domain.OrderItem, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(orderCollection).Doc(key).Collection(orderItemsSubcollection).Documents(ctx)
	defer iter.Stop()

	type positioned struct {
		item domain.OrderItem
		pos  int
	}
	var entries []positioned
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.items", err)
		}
		var doc orderItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("orders.items", err)
		}
		entries = append(entries, positioned{item: decodeOrderItemDocument(snap.Ref.ID, doc), pos: doc.Position})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	items := make([]domain.OrderItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.item)
	}
	return items, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

type orderDocument struct {
	OrderID        string  `firestore:"orderId"`
	Type           string  `firestore:"type"`
	Status         string  `firestore:"status"`
	IdempotencyKey string  `firestore:"idempotencyKey,omitempty"`
	ContactName    string  `firestore:"contactName"`
	ContactEmail   string  `firestore:"contactEmail"`
	ContactPhone   string  `firestore:"contactPhone"`
	Shipping       address `firestore:"shipping"`
	Billing        address `firestore:"billing"`
	CardholderName string  `firestore:"cardholderName"`

	Subtotal   int64 `firestore:"subtotal"`
	ServiceFee int64 `firestore:"serviceFee"`
	Total      int64 `firestore:"total"`

	TransactionID     string     `firestore:"transactionId,omitempty"`
	CancelReason      string     `firestore:"cancelReason,omitempty"`
	CanceledAt        *time.Time `firestore:"canceledAt,omitempty"`
	PaymentRecordedAt *time.Time `firestore:"paymentRecordedAt,omitempty"`
	CapturedAmount    int64      `firestore:"capturedAmount,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type address struct {
	Name         string `firestore:"name,omitempty"`
	CompanyName  string `firestore:"companyName,omitempty"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	Zip          string `firestore:"zip"`
}

type orderItemDocument struct {
	Position        int        `firestore:"position"`
	CertificateID   string     `firestore:"certificateId,omitempty"`
	Quantity        int        `firestore:"quantity"`
	UnitPrice       int64      `firestore:"unitPrice"`
	FullName1       string     `firestore:"fullName1,omitempty"`
	FullName2       string     `firestore:"fullName2,omitempty"`
	DateOfEvent     *time.Time `firestore:"dateOfEvent,omitempty"`
	Details         string     `firestore:"details,omitempty"`
	UploadSessionID string     `firestore:"uploadSessionId,omitempty"`
}

type idempotencyMarkerDocument struct {
	OrderKey  string    `firestore:"orderKey"`
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderID:        order.ID,
		Type:           string(order.Type),
		Status:         string(order.Status),
		IdempotencyKey: strings.TrimSpace(order.IdempotencyKey),
		ContactName:    strings.TrimSpace(order.Contact.Name),
		ContactEmail:   strings.TrimSpace(order.Contact.Email),
		ContactPhone:   strings.TrimSpace(order.Contact.Phone),
		Shipping: address{
			Name:         strings.TrimSpace(order.Shipping.Name),
			CompanyName:  strings.TrimSpace(order.Shipping.CompanyName),
			AddressLine1: strings.TrimSpace(order.Shipping.AddressLine1),
			AddressLine2: strings.TrimSpace(order.Shipping.AddressLine2),
			City:         strings.TrimSpace(order.Shipping.City),
			State:        strings.TrimSpace(order.Shipping.State),
			Zip:          strings.TrimSpace(order.Shipping.Zip),
		},
		Billing: address{
			AddressLine1: strings.TrimSpace(order.Billing.AddressLine1),
			AddressLine2: strings.TrimSpace(order.Billing.AddressLine2),
			City:         strings.TrimSpace(order.Billing.City),
			State:        strings.TrimSpace(order.Billing.State),
			Zip:          strings.TrimSpace(order.Billing.Zip),
		},
		CardholderName: strings.TrimSpace(order.Billing.CardholderName),
		Subtotal:       order.Subtotal,
		ServiceFee:     order.ServiceFee,
		Total:          order.Total,
		TransactionID:  strings.TrimSpace(order.TransactionID),
		CapturedAmount: order.CapturedAmount,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
	if order.CancelReason != nil {
		doc.CancelReason = *order.CancelReason
	}
	if order.CanceledAt != nil {
		canceledAt := order.CanceledAt.UTC()
		doc.CanceledAt = &canceledAt
	}
	if order.PaymentRecordedAt != nil {
		recordedAt := order.PaymentRecordedAt.UTC()
		doc.PaymentRecordedAt = &recordedAt
	}
	return doc
}

func decodeOrderDocument(key string, doc orderDocument) domain.Order {
	order := domain.Order{
		Key:            key,
		ID:             doc.OrderID,
		Type:           domain.OrderType(doc.Type),
		Status:         domain.OrderStatus(doc.Status),
		IdempotencyKey: doc.IdempotencyKey,
		Contact: domain.ContactInfo{
			Name:  doc.ContactName,
			Email: doc.ContactEmail,
			Phone: doc.ContactPhone,
		},
		Shipping: domain.ShippingInfo{
			Name:         doc.Shipping.Name,
			CompanyName:  doc.Shipping.CompanyName,
			AddressLine1: doc.Shipping.AddressLine1,
			AddressLine2: doc.Shipping.AddressLine2,
			City:         doc.Shipping.City,
			State:        doc.Shipping.State,
			Zip:          doc.Shipping.Zip,
		},
		Billing: domain.BillingInfo{
			CardholderName: doc.CardholderName,
			AddressLine1:   doc.Billing.AddressLine1,
			AddressLine2:   doc.Billing.AddressLine2,
			City:           doc.Billing.City,
			State:          doc.Billing.State,
			Zip:            doc.Billing.Zip,
		},
		Subtotal:       doc.Subtotal,
		ServiceFee:     doc.ServiceFee,
		Total:          doc.Total,
		TransactionID:  doc.TransactionID,
		CapturedAmount: doc.CapturedAmount,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.CancelReason != "" {
		reason := doc.CancelReason
		order.CancelReason = &reason
	}
	if doc.CanceledAt != nil {
		canceledAt := *doc.CanceledAt
		order.CanceledAt = &canceledAt
	}
	if doc.PaymentRecordedAt != nil {
		recordedAt := *doc.PaymentRecordedAt
		order.PaymentRecordedAt = &recordedAt
	}
	return order
}

func encodeOrderItemDocument(item domain.OrderItem, position int) orderItemDocument {
	doc := orderItemDocument{
		Position:        position,
		CertificateID:   strings.TrimSpace(item.CertificateID),
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		FullName1:       strings.TrimSpace(item.FullName1),
		FullName2:       strings.TrimSpace(item.FullName2),
		Details:         strings.TrimSpace(item.Details),
		UploadSessionID: strings.TrimSpace(item.UploadSessionID),
	}
	if item.DateOfEvent != nil {
		eventDate := item.DateOfEvent.UTC()
		doc.DateOfEvent = &eventDate
	}
	return doc
}

func decodeOrderItemDocument(id string, doc orderItemDocument) domain.OrderItem {
	item := domain.OrderItem{
		ID:              id,
		CertificateID:   doc.CertificateID,
		Quantity:        doc.Quantity,
		UnitPrice:       doc.UnitPrice,
		FullName1:       doc.FullName1,
		FullName2:       doc.FullName2,
		Details:         doc.Details,
		UploadSessionID: doc.UploadSessionID,
	}
	if doc.DateOfEvent != nil {
		eventDate := *doc.DateOfEvent
		item.DateOfEvent = &eventDate
	}
	return item
}

func idempotencyDocID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}
