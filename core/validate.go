package core

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report fields by their config and kwarg names
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name := strings.SplitN(sf.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return sf.Name
		}
		return name
	})
	return v
}

// validateStruct checks the validate tags of v and returns the first
// failure as a ConfigurationError
func validateStruct(kind, field string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newConfigurationError(kind, field, "%s", err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "gte":
		return newConfigurationError(kind, field, "%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return newConfigurationError(kind, field, "%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "min":
		return newConfigurationError(kind, field, "%s needs at least %s items", fe.Field(), fe.Param())
	case "len":
		return newConfigurationError(kind, field, "%s needs exactly %s items", fe.Field(), fe.Param())
	default:
		return newConfigurationError(kind, field, "%s failed the %s check", fe.Field(), fe.Tag())
	}
}
