package prediction

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// ErrInvalidRequest marks caller mistakes: unparsable numbers, missing
// fields, out-of-range values and unknown categories.
var ErrInvalidRequest = errors.New("invalid prediction request")

// RequestFields lists the request fields in form order
var RequestFields = []string{"log_carat", "volume", "depth", "table", "cut", "color", "clarity"}

// NewValidator returns a validator that knows the "finite" and "category"
// rules used by models.PredictionRequest.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.IsCategory(fl.Param(), fl.Field().String())
	})
	return v
}

// ParseRequest builds a request from string values, as submitted by the
// HTML form. get returns "" for an absent field.
func ParseRequest(get func(field string) string) (*models.PredictionRequest, error) {
	nums := make(map[string]float64, 4)
	for _, field := range RequestFields[:4] {
		raw := strings.TrimSpace(get(field))
		if raw == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidRequest, field, raw)
		}
		nums[field] = v
	}
	return &models.PredictionRequest{
		LogCarat: nums["log_carat"],
		Volume:   nums["volume"],
		Depth:    nums["depth"],
		Table:    nums["table"],
		Cut:      strings.TrimSpace(get("cut")),
		Color:    strings.TrimSpace(get("color")),
		Clarity:  strings.TrimSpace(get("clarity")),
	}, nil
}

// describe flattens validator errors into one readable message
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "category":
			parts = append(parts, fmt.Sprintf("%s %q is not a known %s", fe.Field(), fe.Value(), fe.Param()))
		case "finite":
			parts = append(parts, fe.Field()+" must be a finite number")
		default:
			parts = append(parts, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}
