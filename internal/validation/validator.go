package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type orderRules struct {
	AccountID  string `validate:"required,uuid"`
	Instrument string `validate:"required,alphanum,max=12"`
	Side       string `validate:"required,oneof=buy sell"`
	Price      string `validate:"required"`
	Quantity   string `validate:"required"`
}

var fieldNames = map[string]string{
	"AccountID":  "account_id",
	"Instrument": "instrument",
	"Side":       "side",
	"Price":      "price",
	"Quantity":   "quantity",
}

// ValidateOrderRequest checks shape with validator tags, then the decimal
// rules the tag language cannot express.
func ValidateOrderRequest(accountID, instrument, side, price, quantity string) ValidationErrors {
	var errs ValidationErrors

	rules := orderRules{
		AccountID:  strings.TrimSpace(accountID),
		Instrument: NormalizeInstrument(instrument),
		Side:       strings.ToLower(strings.TrimSpace(side)),
		Price:      strings.TrimSpace(price),
		Quantity:   strings.TrimSpace(quantity),
	}

	if err := validate.Struct(rules); err != nil {
		var invalid validator.ValidationErrors
		if ok := errorsAs(err, &invalid); ok {
			for _, fe := range invalid {
				field := fieldNames[fe.StructField()]
				if field == "" {
					field = strings.ToLower(fe.StructField())
				}
				errs = append(errs, FieldError{Field: field, Message: ruleMessage(fe)})
			}
		} else {
			errs = append(errs, FieldError{Field: "request", Message: err.Error()})
		}
	}

	if rules.Price != "" {
		if _, err := ParsePositiveDecimal(rules.Price); err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		}
	}
	if rules.Quantity != "" {
		if _, err := ParsePositiveDecimal(rules.Quantity); err != nil {
			errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
		}
	}

	return errs
}

func NormalizeInstrument(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

func ParsePositiveDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("must be a decimal number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("must be positive")
	}
	return d, nil
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "alphanum":
		return "must be alphanumeric"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = v
	return true
}
