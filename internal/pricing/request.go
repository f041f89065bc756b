package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/pricing-service/internal/common"
)

const (
	msgInvalidJSON      = "Invalid or missing JSON data"
	msgProductsRequired = "Invalid input, 'products' list is required"
	msgValidationFailed = "Validation failed"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type calculateRequest struct {
	Products json.RawMessage `json:"products"`
}

// itemRequest keeps pointers so an absent field can be told apart from zero.
type itemRequest struct {
	ProductID *int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  *int64 `json:"quantity" validate:"required,gt=0"`
}

// DecodeCalculateRequest parses a calculate body into line items. Every item is
// checked and all problems are reported together.
func DecodeCalculateRequest(body io.Reader) ([]LineItem, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, common.ValidationError(msgInvalidJSON, nil)
	}
	var req calculateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, common.ValidationError(msgInvalidJSON, nil)
	}

	var elems []json.RawMessage
	if len(req.Products) == 0 || json.Unmarshal(req.Products, &elems) != nil || len(elems) == 0 {
		return nil, common.ValidationError(msgProductsRequired, nil)
	}

	items := make([]LineItem, 0, len(elems))
	var problems []string
	for i, elem := range elems {
		var it itemRequest
		if err := json.Unmarshal(elem, &it); err != nil {
			problems = append(problems, fmt.Sprintf("Product at index %d is malformed", i))
			continue
		}
		if err := validate.Struct(it); err != nil {
			problems = append(problems, describe(i, err)...)
			continue
		}
		items = append(items, LineItem{ProductID: *it.ProductID, Quantity: *it.Quantity})
	}
	if len(problems) > 0 {
		return nil, common.ValidationError(msgValidationFailed, problems)
	}
	return items, nil
}

func describe(index int, err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{fmt.Sprintf("Product at index %d is malformed", index)}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			out = append(out, fmt.Sprintf("Product at index %d missing %s", index, fe.Field()))
			continue
		}
		out = append(out, fmt.Sprintf("Product at index %d has invalid %s", index, fe.Field()))
	}
	return out
}
