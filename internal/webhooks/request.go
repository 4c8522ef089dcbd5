package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"kambafy/internal/model"
)

var ErrDataRequired = errors.New("event data is required")

// OrderLookup resolves an order to its product and the product's owner.
type OrderLookup interface {
	OrderResource(ctx context.Context, orderID string) (productID, ownerID string, err error)
}

// RequestScope validates a dispatch request and derives its scope. product_id is
// the resource; an order_id alone is resolved to its product and owner; user_id
// is the owner and wins over the owner of a resolved order.
func RequestScope(ctx context.Context, orders OrderLookup, req model.DispatchRequest) (model.Scope, error) {
	if strings.TrimSpace(req.Event) == "" {
		return model.Scope{}, ErrEventRequired
	}
	if d := bytes.TrimSpace(req.Data); len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return model.Scope{}, ErrDataRequired
	}
	s := model.Scope{OwnerID: req.UserID, ResourceID: req.ProductID}
	if s.ResourceID == "" && req.OrderID != "" {
		if orders == nil {
			return s, ErrScopeRequired
		}
		productID, ownerID, err := orders.OrderResource(ctx, req.OrderID)
		if err != nil {
			return s, fmt.Errorf("resolve order %s: %w", req.OrderID, err)
		}
		s.ResourceID = productID
		if s.OwnerID == "" {
			s.OwnerID = ownerID
		}
	}
	if s.OwnerID == "" && s.ResourceID == "" {
		return s, ErrScopeRequired
	}
	return s, nil
}
