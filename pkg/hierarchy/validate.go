package hierarchy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateRole checks required fields and bounds of a role config
func ValidateRole(role *RoleConfig) error {
	if role == nil {
		return fmt.Errorf("%w: role config is required", ErrValidation)
	}
	return structErr(validate.Struct(role))
}

// ValidateOverride checks required fields of a member override
func ValidateOverride(o *MemberOverride) error {
	if o == nil {
		return fmt.Errorf("%w: member override is required", ErrValidation)
	}
	return structErr(validate.Struct(o))
}

func structErr(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
