package identity

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"samadhan/internal/models"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)

type inputValidator struct {
	validate *validator.Validate
	policy   *bluemonday.Policy
}

func newInputValidator() *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return isStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})

	return &inputValidator{
		validate: v,
		policy:   bluemonday.StrictPolicy(),
	}
}

// maxPasswordBytes is the longest input bcrypt accepts. The max tag counts
// runes, so multibyte passwords need this check too.
const maxPasswordBytes = 72

// isStrongPassword needs at least one lowercase letter, one uppercase letter
// and one digit. Length is checked by the min tag.
func isStrongPassword(s string) bool {
	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// sanitizeText strips markup and surrounding whitespace from free text.
func (v *inputValidator) sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(v.policy.Sanitize(s)))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizePhone(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func (v *inputValidator) check(in any) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return internalError("validating input", err)
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		field := fe.Field()
		if _, seen := fields[field]; seen {
			continue
		}
		fields[field] = fieldMessage(fe)
	}
	return validationError(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "password":
		return "must contain a lowercase letter, an uppercase letter and a digit"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "bcryptlen":
		return fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return "is invalid"
	}
}

func requireField(fields map[string]string, name, value string) map[string]string {
	if value != "" {
		return fields
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	fields[name] = "is required"
	return fields
}

type RegisterInput struct {
	Name       string            `json:"name" validate:"required,min=2,max=100"`
	Email      string            `json:"email" validate:"omitempty,email,max=254"`
	Phone      string            `json:"phone" validate:"omitempty,phone"`
	Password   string            `json:"password" validate:"omitempty,min=6,max=72,bcryptlen,password"`
	AuthMethod models.AuthMethod `json:"authMethod" validate:"required,oneof=email phone"`
}

func (in *RegisterInput) normalize(v *inputValidator) {
	in.Name = v.sanitizeText(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Phone = normalizePhone(in.Phone)
}

func (in *RegisterInput) contactFields() map[string]string {
	var fields map[string]string
	switch in.AuthMethod {
	case models.AuthMethodEmail:
		fields = requireField(fields, "email", in.Email)
		fields = requireField(fields, "password", in.Password)
	case models.AuthMethodPhone:
		fields = requireField(fields, "phone", in.Phone)
	}
	return fields
}

type LoginInput struct {
	Email      string            `json:"email" validate:"omitempty,email,max=254"`
	Phone      string            `json:"phone" validate:"omitempty,phone"`
	Password   string            `json:"password" validate:"max=72,bcryptlen"`
	AuthMethod models.AuthMethod `json:"authMethod" validate:"required,oneof=email phone"`
}

func (in *LoginInput) normalize() {
	in.Email = normalizeEmail(in.Email)
	in.Phone = normalizePhone(in.Phone)
}

func (in *LoginInput) contactFields() map[string]string {
	var fields map[string]string
	switch in.AuthMethod {
	case models.AuthMethodEmail:
		fields = requireField(fields, "email", in.Email)
		fields = requireField(fields, "password", in.Password)
	case models.AuthMethodPhone:
		fields = requireField(fields, "phone", in.Phone)
	}
	return fields
}

// loginKey returns the lookup key for the chosen method.
func (in *LoginInput) loginKey() string {
	if in.AuthMethod == models.AuthMethodPhone {
		return in.Phone
	}
	return in.Email
}

type VerifyPhoneInput struct {
	Phone    string `json:"phone" validate:"required,phone"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Password string `json:"password" validate:"omitempty,min=6,max=72,bcryptlen,password"`
}

// ContactInput names an identity by its method-specific key. It backs
// resend-verification and forgot-password.
type ContactInput struct {
	Email      string            `json:"email" validate:"omitempty,email,max=254"`
	Phone      string            `json:"phone" validate:"omitempty,phone"`
	AuthMethod models.AuthMethod `json:"authMethod" validate:"required,oneof=email phone"`
}

func (in *ContactInput) normalize() {
	in.Email = normalizeEmail(in.Email)
	in.Phone = normalizePhone(in.Phone)
}

func (in *ContactInput) contactFields() map[string]string {
	switch in.AuthMethod {
	case models.AuthMethodEmail:
		return requireField(nil, "email", in.Email)
	case models.AuthMethodPhone:
		return requireField(nil, "phone", in.Phone)
	}
	return nil
}

func (in *ContactInput) key() string {
	if in.AuthMethod == models.AuthMethodPhone {
		return in.Phone
	}
	return in.Email
}

// ResetPasswordInput carries the email reset token, or the phone plus the
// SMS code, depending on AuthMethod.
type ResetPasswordInput struct {
	AuthMethod models.AuthMethod `json:"authMethod" validate:"required,oneof=email phone"`
	Token      string            `json:"token" validate:"omitempty,len=64,hexadecimal"`
	Phone      string            `json:"phone" validate:"omitempty,phone"`
	Code       string            `json:"code" validate:"omitempty,len=6,numeric"`
	Password   string            `json:"password" validate:"required,min=6,max=72,bcryptlen,password"`
}

func (in *ResetPasswordInput) contactFields() map[string]string {
	switch in.AuthMethod {
	case models.AuthMethodEmail:
		return requireField(nil, "token", in.Token)
	case models.AuthMethodPhone:
		fields := requireField(nil, "phone", in.Phone)
		return requireField(fields, "code", in.Code)
	}
	return nil
}

type UpdateProfileInput struct {
	Name          *string                         `json:"name" validate:"omitempty,min=2,max=100"`
	Location      *LocationInput                  `json:"location"`
	Notifications *models.NotificationPreferences `json:"notifications"`
}

type LocationInput struct {
	City    string `json:"city" validate:"max=100"`
	State   string `json:"state" validate:"max=100"`
	Country string `json:"country" validate:"max=100"`
}

func (in *UpdateProfileInput) normalize(v *inputValidator) {
	if in.Name != nil {
		name := v.sanitizeText(*in.Name)
		in.Name = &name
	}
	if in.Location != nil {
		in.Location.City = v.sanitizeText(in.Location.City)
		in.Location.State = v.sanitizeText(in.Location.State)
		in.Location.Country = v.sanitizeText(in.Location.Country)
	}
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"max=72,bcryptlen"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72,bcryptlen,password"`
}

// validateWith runs struct validation then the method-specific presence
// checks, merging both into one field map.
func (v *inputValidator) validateWith(in any, contact map[string]string) error {
	if err := v.check(in); err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindValidation {
			for field, msg := range contact {
				if _, ok := e.Fields[field]; !ok {
					e.Fields[field] = msg
				}
			}
		}
		return err
	}
	if len(contact) > 0 {
		return validationError(contact)
	}
	return nil
}
