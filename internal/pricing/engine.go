package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/pricing-service/internal/common"
	"github.com/noah-isme/pricing-service/internal/inventory"
	"github.com/noah-isme/pricing-service/internal/obs"
)

// Resolver looks up the current name and unit price of a product.
type Resolver interface {
	Resolve(ctx context.Context, productID int64) (inventory.Product, error)
}

// LineItem is one requested product and quantity.
type LineItem struct {
	ProductID int64
	Quantity  int64
}

// LineResult is the priced form of a LineItem.
type LineResult struct {
	ProductID int64
	Name      string
	BasePrice decimal.Decimal
	Quantity  int64
	Discount  decimal.Decimal
	// ItemTotal is Subtotal rounded for display.
	ItemTotal decimal.Decimal
	// Subtotal is the exact discounted line amount.
	Subtotal decimal.Decimal
}

// Quote is the result of pricing a batch. GrandTotal is the rounded sum of the
// exact line subtotals, not the sum of the rounded item totals.
type Quote struct {
	GrandTotal decimal.Decimal
	Lines      []LineResult
}

// EngineConfig groups Engine dependencies.
type EngineConfig struct {
	Resolver Resolver
	Rules    *RuleSet
	// Concurrency bounds parallel inventory lookups; 1 or less is sequential.
	Concurrency int
}

// Engine prices batches of line items.
type Engine struct {
	resolver    Resolver
	rules       *RuleSet
	concurrency int
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("pricing: resolver is required")
	}
	if cfg.Rules == nil {
		return nil, errors.New("pricing: rule set is required")
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{resolver: cfg.Resolver, rules: cfg.Rules, concurrency: concurrency}, nil
}

// Calculate prices items in input order. Validation happens before any lookup.
// The first failing line, by input position, aborts the whole batch and no
// partial quote is returned.
func (e *Engine) Calculate(ctx context.Context, items []LineItem) (Quote, error) {
	ctx, span := otel.Tracer("pricing").Start(ctx, "pricing.calculate")
	defer span.End()
	span.SetAttributes(attribute.Int("pricing.line_count", len(items)))

	quote, err := e.calculate(ctx, items)
	if err != nil {
		appErr := common.AsAppError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Message)
		obs.ObservePricing(resultLabel(appErr), len(items))
		return Quote{}, appErr
	}
	span.SetAttributes(attribute.String("pricing.grand_total", quote.GrandTotal.String()))
	obs.ObservePricing("success", len(items))
	return quote, nil
}

func (e *Engine) calculate(ctx context.Context, items []LineItem) (Quote, error) {
	if err := validateItems(items); err != nil {
		return Quote{}, err
	}

	products, err := e.resolveAll(ctx, items)
	if err != nil {
		return Quote{}, err
	}

	lines := make([]LineResult, len(items))
	total := decimal.Zero
	for i, it := range items {
		p := products[i]
		pct := e.rules.Discount(it.ProductID, it.Quantity)
		subtotal := lineSubtotal(p.Price, it.Quantity, pct)
		lines[i] = LineResult{
			ProductID: it.ProductID,
			Name:      p.Name,
			BasePrice: p.Price,
			Quantity:  it.Quantity,
			Discount:  pct,
			ItemTotal: RoundMoney(subtotal),
			Subtotal:  subtotal,
		}
		total = total.Add(subtotal)
	}
	return Quote{GrandTotal: RoundMoney(total), Lines: lines}, nil
}

// resolveAll fetches every product. Lookups start in input order; a line is
// skipped only when a line before it has already failed, so every line up to
// the first failing one always runs and the reported failure matches what a
// sequential pass would report.
func (e *Engine) resolveAll(ctx context.Context, items []LineItem) ([]inventory.Product, error) {
	products := make([]inventory.Product, len(items))
	errs := make([]error, len(items))

	var firstFailed atomic.Int64
	firstFailed.Store(math.MaxInt64)
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, it := range items {
		if int64(i) > firstFailed.Load() {
			break
		}
		g.Go(func() error {
			if int64(i) > firstFailed.Load() {
				return nil
			}
			p, err := e.resolver.Resolve(ctx, it.ProductID)
			if err != nil {
				errs[i] = err
				lowerFirstFailed(&firstFailed, int64(i))
				return nil
			}
			products[i] = p
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			appErr := lookupError(items[i].ProductID, err)
			zerolog.Ctx(ctx).Warn().Err(err).
				Int64("product_id", items[i].ProductID).
				Int("line", i).
				Str("code", appErr.Code).
				Msg("pricing batch aborted")
			return nil, appErr
		}
	}
	return products, nil
}

func lowerFirstFailed(v *atomic.Int64, i int64) {
	for {
		cur := v.Load()
		if i >= cur || v.CompareAndSwap(cur, i) {
			return
		}
	}
}

func lookupError(productID int64, err error) *common.AppError {
	var unavailable *inventory.UnavailableError
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return common.NewAppError(common.CodeNotFound,
			fmt.Sprintf("Product ID %d not found in inventory", productID), http.StatusNotFound, err)
	case errors.As(err, &unavailable):
		return common.NewAppError(common.CodeUnavailable,
			fmt.Sprintf("Inventory Service is offline. Please start it on port %s.", unavailable.Port),
			http.StatusInternalServerError, err)
	default:
		return common.InternalError(err)
	}
}

func validateItems(items []LineItem) error {
	if len(items) == 0 {
		return common.ValidationError(msgProductsRequired, nil)
	}
	var problems []string
	for i, it := range items {
		if it.ProductID <= 0 {
			problems = append(problems, fmt.Sprintf("Product at index %d has invalid product_id", i))
		}
		if it.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("Product at index %d has invalid quantity", i))
		}
	}
	if len(problems) > 0 {
		return common.ValidationError(msgValidationFailed, problems)
	}
	return nil
}

func resultLabel(err *common.AppError) string {
	switch err.Code {
	case common.CodeValidation:
		return "invalid"
	case common.CodeNotFound:
		return "not_found"
	case common.CodeUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
