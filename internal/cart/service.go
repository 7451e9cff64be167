package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// ItemInput is one requested line.
type ItemInput struct {
	ProductID       string           `json:"productId" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"gt=0"`
	UnitPrice       *decimal.Decimal `json:"unitPrice,omitempty" validate:"omitempty,gte=0"`
	Discount        *decimal.Decimal `json:"discount,omitempty" validate:"omitempty,gte=0"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// QuoteRequest is a cart described by product ids and quantities.
type QuoteRequest struct {
	CustomerID string      `json:"customerId,omitempty"`
	Items      []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// Quote is a priced cart plus the resolved customer, if any.
type Quote struct {
	Snapshot
	CustomerRecord *catalog.Customer `json:"-"`
}

// Quoter builds carts from requests against the catalog.
type Quoter struct {
	Catalog  catalog.Reader
	Validate *validator.Validate
}

// Quote validates req, loads products and the customer, and prices the cart.
func (q *Quoter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if q == nil || q.Catalog == nil {
		return Quote{}, errors.New("cart quoter not configured")
	}
	validate := q.Validate
	if validate == nil {
		validate = common.NewValidator()
	}
	if err := validate.Struct(req); err != nil {
		return Quote{}, common.ValidationError(err)
	}

	c := New()
	var customer *catalog.Customer
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		found, err := q.Catalog.Customer(ctx, id)
		if err != nil {
			return Quote{}, err
		}
		customer = &found
		if _, err := c.SetCustomer(customer); err != nil {
			return Quote{}, err
		}
	}
	for i, item := range req.Items {
		p, err := q.Catalog.Product(ctx, item.ProductID)
		if err != nil {
			return Quote{}, err
		}
		snap, err := c.Add(p, item.Quantity)
		if err != nil {
			return Quote{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		if item.UnitPrice == nil && item.Discount == nil && item.DiscountPercent == nil {
			continue
		}
		lineID := lineFor(snap, p.ID)
		if _, err := c.UpdateLine(lineID, Changes{
			UnitPrice:       item.UnitPrice,
			Discount:        item.Discount,
			DiscountPercent: item.DiscountPercent,
		}); err != nil {
			return Quote{}, fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return Quote{Snapshot: c.Snapshot(), CustomerRecord: customer}, nil
}

func lineFor(snap Snapshot, productID string) string {
	for _, l := range snap.Lines {
		if l.ProductID == productID {
			return l.ID
		}
	}
	return ""
}

// AppError maps cart and pricing failures to API errors. Unknown errors are
// returned unchanged.
func AppError(err error) error {
	var appErr *common.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, catalog.ErrProductNotFound):
		return common.NotFound("product not found", err)
	case errors.Is(err, catalog.ErrCustomerNotFound):
		return common.NotFound("customer not found", err)
	case errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrFractionalQuantity):
		return common.BadRequest("quantity", err.Error(), err)
	case errors.Is(err, pricing.ErrInvalidDiscount):
		return common.BadRequest("customer.discount", err.Error(), err)
	case errors.Is(err, ErrInvalidLineDiscount):
		return common.BadRequest("discount", err.Error(), err)
	case errors.Is(err, ErrInvalidUnitPrice):
		return common.BadRequest("unitPrice", err.Error(), err)
	case errors.Is(err, ErrBonusLine):
		return common.BadRequest("id", ErrBonusLine.Error(), err)
	case errors.Is(err, ErrLineNotFound):
		return common.NotFound("cart line not found", err)
	}
	return err
}
