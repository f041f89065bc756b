package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pricing-service/internal/common"
)

// Calculator prices a batch of line items.
type Calculator interface {
	Calculate(ctx context.Context, items []LineItem) (Quote, error)
}

// Handler wires the pricing engine and rule store to HTTP.
type Handler struct {
	Engine Calculator
	Rules  *RuleSet
}

type detailResponse struct {
	ProductID       int64       `json:"product_id"`
	Name            string      `json:"name"`
	BasePrice       json.Number `json:"base_price"`
	Quantity        int64       `json:"quantity"`
	DiscountApplied string      `json:"discount_applied"`
	ItemTotal       json.Number `json:"item_total"`
}

type calculateResponse struct {
	Status     string           `json:"status"`
	GrandTotal json.Number      `json:"grand_total"`
	Details    []detailResponse `json:"details"`
}

type ruleResponse struct {
	RuleID             int64       `json:"rule_id"`
	ProductID          int64       `json:"product_id"`
	MinQuantity        int64       `json:"min_quantity"`
	DiscountPercentage json.Number `json:"discount_percentage"`
}

// Routes mounts the pricing endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/calculate", h.Calculate)
	r.Get("/rules", h.ListRules)
	r.Get("/rules/{product_id}", h.ProductRules)
}

// Calculate handles POST /api/pricing/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(r.Context()).Error().Interface("panic", rec).Msg("pricing calculation panicked")
			common.WriteError(w, common.InternalError(fmt.Errorf("%v", rec)))
		}
	}()

	if h.Engine == nil {
		common.WriteError(w, common.InternalError(errors.New("pricing engine not configured")))
		return
	}
	items, err := DecodeCalculateRequest(r.Body)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Engine.Calculate(r.Context(), items)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, newCalculateResponse(quote))
}

// ListRules handles GET /api/pricing/rules.
func (h *Handler) ListRules(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{
		"status": common.StatusSuccess,
		"rules":  toRuleResponses(h.Rules.All()),
	})
}

// ProductRules handles GET /api/pricing/rules/{product_id}. A product without
// rules answers with an empty list.
func (h *Handler) ProductRules(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		common.WriteError(w, common.ValidationError("Invalid product_id", nil))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"status":     common.StatusSuccess,
		"product_id": productID,
		"rules":      toRuleResponses(h.Rules.RulesFor(productID)),
	})
}

func newCalculateResponse(q Quote) calculateResponse {
	details := make([]detailResponse, len(q.Lines))
	for i, l := range q.Lines {
		details[i] = detailResponse{
			ProductID:       l.ProductID,
			Name:            l.Name,
			BasePrice:       jsonNumber(l.BasePrice),
			Quantity:        l.Quantity,
			DiscountApplied: FormatPercent(l.Discount),
			ItemTotal:       jsonNumber(l.ItemTotal),
		}
	}
	return calculateResponse{
		Status:     common.StatusSuccess,
		GrandTotal: jsonNumber(q.GrandTotal),
		Details:    details,
	}
}

func toRuleResponses(rules []Rule) []ruleResponse {
	out := make([]ruleResponse, len(rules))
	for i, r := range rules {
		out[i] = ruleResponse{
			RuleID:             r.ID,
			ProductID:          r.ProductID,
			MinQuantity:        r.MinQuantity,
			DiscountPercentage: jsonNumber(r.DiscountPercentage),
		}
	}
	return out
}
