package service

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/fileshare/internal/errs"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	return v
}

type registerInput struct {
	Username string `validate:"required,min=3,max=50,username"`
	Email    string `validate:"omitempty,email,max=254"`
	Password string `validate:"required,min=6,max=128"`
}

var fieldMessages = map[string]string{
	"Username": "must be 3-50 characters of letters, digits, '_' or '-'",
	"Email":    "must be a valid email address",
	"Password": "must be 6-128 characters",
}

// validationError converts validator output into the first *errs.ValidationError.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err
	}
	f := ve[0]
	return errs.Validation(strings.ToLower(f.Field()), fieldMessages[f.Field()])
}
