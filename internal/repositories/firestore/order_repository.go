package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	ordersCollection          = "orders"
	orderRefsCollection       = "orderRefs"
	orderAccessKeysCollection = "orderAccessKeys"

	defaultRefField = "ref"
)

// OrderRepository stores estimates and invoices as single documents with their items
// embedded. Reference and access-key uniqueness is enforced by reservation documents that
// are written in the same transaction as the order.
type OrderRepository struct {
	provider   *pfirestore.Provider
	refField   string
	orders     *pfirestore.BaseRepository[orderDocument]
	refs       *pfirestore.BaseRepository[reservationDocument]
	accessKeys *pfirestore.BaseRepository[reservationDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository. refField names the document field holding
// the reference number; empty means "ref".
func NewOrderRepository(provider *pfirestore.Provider, refField string) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	refField = strings.TrimSpace(refField)
	if refField == "" {
		refField = defaultRefField
	}

	repo := &OrderRepository{provider: provider, refField: refField}
	repo.orders = pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection,
		func(doc orderDocument) (any, error) {
			return doc.fields(refField), nil
		},
		func(snap *firestore.DocumentSnapshot) (orderDocument, error) {
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return doc, err
			}
			if raw, err := snap.DataAt(refField); err == nil {
				ref, ok := raw.(int64)
				if !ok {
					return doc, fmt.Errorf("field %s is %T, want int64", refField, raw)
				}
				doc.Ref = ref
			}
			return doc, nil
		},
	)
	repo.refs = pfirestore.NewBaseRepository[reservationDocument](provider, orderRefsCollection, nil, nil)
	repo.accessKeys = pfirestore.NewBaseRepository[reservationDocument](provider, orderAccessKeysCollection, nil, nil)
	return repo, nil
}

// Insert creates the order and its reservations. A taken reservation fails the commit with
// AlreadyExists, which surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		if err := r.orders.Create(ctx, order.ID, newOrderDocument(order)); err != nil {
			return err
		}
		reservation := reservationDocument{OrderID: order.ID, ReservedAt: order.UpdatedAt.UTC()}
		if order.Ref != 0 {
			if err := r.refs.Create(ctx, refDocID(order.Kind, order.Ref), reservation); err != nil {
				return err
			}
		}
		if order.AccessKey != "" {
			if err := r.accessKeys.Create(ctx, order.AccessKey, reservation); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update overwrites the order, moving its reservations when the kind, reference or access
// key changed. All reads happen before the first write as Firestore transactions require.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		current, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		previous := current.Data

		oldRef := refDocID(domain.OrderKind(previous.Kind), previous.Ref)
		newRef := refDocID(order.Kind, order.Ref)
		refMoved := previous.Ref != order.Ref || previous.Kind != string(order.Kind)
		keyMoved := previous.AccessKey != order.AccessKey

		var refOwned, keyOwned bool
		if refMoved && order.Ref != 0 {
			if refOwned, err = r.ensureFree(ctx, r.refs, newRef, order.ID); err != nil {
				return err
			}
		}
		if keyMoved && order.AccessKey != "" {
			if keyOwned, err = r.ensureFree(ctx, r.accessKeys, order.AccessKey, order.ID); err != nil {
				return err
			}
		}

		reservation := reservationDocument{OrderID: order.ID, ReservedAt: order.UpdatedAt.UTC()}
		if refMoved {
			if previous.Ref != 0 {
				if err := r.refs.Delete(ctx, oldRef); err != nil {
					return err
				}
			}
			if order.Ref != 0 && !refOwned {
				if err := r.refs.Create(ctx, newRef, reservation); err != nil {
					return err
				}
			}
		}
		if keyMoved {
			if previous.AccessKey != "" {
				if err := r.accessKeys.Delete(ctx, previous.AccessKey); err != nil {
					return err
				}
			}
			if order.AccessKey != "" && !keyOwned {
				if err := r.accessKeys.Create(ctx, order.AccessKey, reservation); err != nil {
					return err
				}
			}
		}
		return r.orders.Set(ctx, order.ID, newOrderDocument(order))
	})
}

// Delete removes the order and releases its reservations.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		current, err := r.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Data.Ref != 0 {
			if err := r.refs.Delete(ctx, refDocID(domain.OrderKind(current.Data.Kind), current.Data.Ref)); err != nil {
				return err
			}
		}
		if current.Data.AccessKey != "" {
			if err := r.accessKeys.Delete(ctx, current.Data.AccessKey); err != nil {
				return err
			}
		}
		return r.orders.Delete(ctx, orderID)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) FindByRef(ctx context.Context, kind domain.OrderKind, ref int64) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_ref", func(q firestore.Query) firestore.Query {
		return q.Where("kind", "==", string(kind)).Where(r.refField, "==", ref).Limit(1)
	})
}

func (r *OrderRepository) FindByAccessKey(ctx context.Context, accessKey string) (domain.Order, error) {
	if strings.TrimSpace(accessKey) == "" {
		return domain.Order{}, pfirestore.NewError("orders.by_access_key", codes.NotFound, errors.New("access key is required"))
	}
	return r.findOne(ctx, "orders.by_access_key", func(q firestore.Query) firestore.Query {
		return q.Where("accessKey", "==", accessKey).Limit(1)
	})
}

// LastRef reads the highest reference for the kind. Requires a composite index on
// (kind, ref desc).
func (r *OrderRepository) LastRef(ctx context.Context, kind domain.OrderKind) (int64, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("kind", "==", string(kind)).OrderBy(r.refField, firestore.Desc).Limit(1)
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	return docs[0].Data.Ref, nil
}

func (r *OrderRepository) RefExists(ctx context.Context, kind domain.OrderKind, ref int64) (bool, error) {
	return r.refs.Exists(ctx, refDocID(kind, ref))
}

func (r *OrderRepository) AccessKeyExists(ctx context.Context, accessKey string) (bool, error) {
	if strings.TrimSpace(accessKey) == "" {
		return false, nil
	}
	return r.accessKeys.Exists(ctx, accessKey)
}

func (r *OrderRepository) findOne(ctx context.Context, op string, build pfirestore.QueryBuilder) (domain.Order, error) {
	docs, err := r.orders.Query(ctx, build)
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewError(op, codes.NotFound, errors.New("order not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// ensureFree reports whether the reservation is already held by orderID, and fails with a
// conflict when another order holds it.
func (r *OrderRepository) ensureFree(ctx context.Context, repo *pfirestore.BaseRepository[reservationDocument], id, orderID string) (bool, error) {
	doc, err := repo.Get(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if doc.Data.OrderID != orderID {
		return false, pfirestore.NewError("orders.reserve", codes.AlreadyExists, fmt.Errorf("%s already held by another order", id))
	}
	return true, nil
}

func refDocID(kind domain.OrderKind, ref int64) string {
	return fmt.Sprintf("%s-%d", kind, ref)
}
