package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
	"github.com/go-playground/validator/v10"
)

// newValidator builds the request validator. Preference values are checked
// against catalog.
func newValidator(catalog *matching.Catalog) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(matching.Preferences)
		for _, c := range catalog.Categories() {
			val, ok := p.Get(c)
			if ok && !catalog.Allows(c, val) {
				sl.ReportError(val, string(c), string(c), "catalog", "")
			}
		}
		if loc := p.LocationValue(); len(loc) > 100 {
			sl.ReportError(loc, "location", "Location", "max", "100")
		}
	}, matching.Preferences{})

	return v
}

// validationDetails turns a validator error into readable messages. ok is
// false when err is not a validation error.
func validationDetails(err error) ([]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, formatFieldError(fe))
	}
	return out, true
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s must contain only letters and numbers", field)
	case "numeric":
		return fmt.Sprintf("%s must contain only numbers", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "e164":
		return fmt.Sprintf("%s must be a valid phone number (E.164 format)", field)
	case "catalog":
		return fmt.Sprintf("%s has an unknown value %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
