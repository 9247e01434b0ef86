package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation limits. SetLimits overrides the candidate limits from
	// configuration.
	MaxProperties       = 1000
	MaxPropertyKeyBytes = 1024
	MaxNameLength       = 100
	MaxLabelLength    = 64
	MaxCandidates     = 1_000_000
	MaxVerticesPerRow = 100_000

	// Regular expressions
	networkNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	versionPattern     = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]*$`)
)

func init() {
	validate = validator.New()
}

// CustomerRequest is the body of a customer creation request
type CustomerRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100,printascii"`
}

// ValidateCustomerRequest validates a customer creation request
func ValidateCustomerRequest(req *CustomerRequest) error {
	if req == nil {
		return errors.New("customer request cannot be nil")
	}

	// Validate using struct tags
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateNetworkName validates a network name as used in upload filenames
func ValidateNetworkName(name string) error {
	if name == "" {
		return errors.New("network name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("network name exceeds maximum length of %d characters", MaxNameLength)
	}
	if !networkNamePattern.MatchString(name) {
		return fmt.Errorf("network name '%s' contains invalid characters (only alphanumeric and underscore allowed)", name)
	}
	return nil
}

// ValidateVersionLabel validates a version label
func ValidateVersionLabel(label string) error {
	if label == "" {
		return errors.New("version label cannot be empty")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("version label exceeds maximum length of %d characters", MaxLabelLength)
	}
	if !versionPattern.MatchString(label) {
		return fmt.Errorf("version label '%s' contains invalid characters", label)
	}
	return nil
}

// ValidateBatchSize validates the number of candidate edges in one upload
func ValidateBatchSize(size int) error {
	if size < 0 {
		return fmt.Errorf("batch size cannot be negative, got %d", size)
	}
	if size > MaxCandidates {
		return fmt.Errorf("batch size must not exceed %d, got %d", MaxCandidates, size)
	}
	return nil
}

// Limits bounds the size of a single upload.
type Limits struct {
	MaxCandidates       int
	MaxProperties       int
	MaxPropertyKeyBytes int
	MaxVerticesPerRow   int
}

// SetLimits replaces the candidate limits. Zero fields keep the current
// value. It is meant to be called once at startup.
func SetLimits(l Limits) {
	if l.MaxCandidates > 0 {
		MaxCandidates = l.MaxCandidates
	}
	if l.MaxProperties > 0 {
		MaxProperties = l.MaxProperties
	}
	if l.MaxPropertyKeyBytes > 0 {
		MaxPropertyKeyBytes = l.MaxPropertyKeyBytes
	}
	if l.MaxVerticesPerRow > 0 {
		MaxVerticesPerRow = l.MaxVerticesPerRow
	}
}

// CurrentLimits returns the limits in effect.
func CurrentLimits() Limits {
	return Limits{
		MaxCandidates:       MaxCandidates,
		MaxProperties:       MaxProperties,
		MaxPropertyKeyBytes: MaxPropertyKeyBytes,
		MaxVerticesPerRow:   MaxVerticesPerRow,
	}
}

// ValidatePropertyKey accepts any key that can be hashed and stored as JSON:
// valid UTF-8 without NUL bytes, at most MaxPropertyKeyBytes long. Keys such
// as "@id", "road type" or "1lane" are fine.
func ValidatePropertyKey(key string) error {
	if len(key) > MaxPropertyKeyBytes {
		return fmt.Errorf("property key exceeds maximum length of %d bytes", MaxPropertyKeyBytes)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("property key %q is not valid UTF-8", key)
	}
	if strings.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("property key %q contains a NUL byte", key)
	}
	return nil
}

// ValidateCandidate checks a single candidate edge
func ValidateCandidate(c roadnet.Candidate) error {
	if len(c.Properties) > MaxProperties {
		return fmt.Errorf("Properties: maximum %d properties allowed, got %d", MaxProperties, len(c.Properties))
	}
	for key := range c.Properties {
		if err := ValidatePropertyKey(key); err != nil {
			return fmt.Errorf("Properties: %w", err)
		}
	}
	if len(c.Geometry) > MaxVerticesPerRow {
		return fmt.Errorf("Geometry: maximum %d vertices allowed, got %d", MaxVerticesPerRow, len(c.Geometry))
	}
	if err := geometry.ValidateLineString(c.Geometry); err != nil {
		return fmt.Errorf("Geometry: %w", err)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "printascii":
			return fmt.Errorf("%s: must contain printable ASCII characters only", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
