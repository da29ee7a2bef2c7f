package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"kombuciao-api/common"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report field names the way clients send them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "flavor", func(fl validator.FieldLevel) bool {
		return Flavor(fl.Field().String()).Valid()
	})
	mustRegister(v, "storetype", func(fl validator.FieldLevel) bool {
		return StoreType(fl.Field().String()).Valid()
	})
	mustRegister(v, "votetype", func(fl validator.FieldLevel) bool {
		return VoteType(fl.Field().String()).Valid()
	})
	mustRegister(v, "objectid", func(fl validator.FieldLevel) bool {
		return isObjectIDHex(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate checks s against its validate tags and returns a
// KindValidation error naming the first offending field.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return common.NewValidationError("invalid input")
	}
	return common.NewValidationError("%s", describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
	case "flavor":
		return fmt.Sprintf("%s: unknown flavor %q (expected one of %s)", field, fe.Value(), flavorNames())
	case "storetype":
		return fmt.Sprintf("%s: unknown store type %q (expected one of %s)", field, fe.Value(), storeTypeNames())
	case "votetype":
		return "invalid vote type: only 'confirm' or 'deny' are allowed"
	case "objectid":
		return field + " is not a valid id"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
