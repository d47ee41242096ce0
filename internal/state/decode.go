package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

// recordValidate checks decoded records against their struct tags.
// Initialized in init() with custom validators.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report json field names rather than Go field names
	recordValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = recordValidate.RegisterValidation("nonblank", validateNonBlank)
}

// validateNonBlank rejects strings made only of whitespace.
func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Rejected is an array element that could not be decoded or failed
// validation.
type Rejected struct {
	Index  int             `json:"index"`
	Raw    json.RawMessage `json:"raw"`
	Reason string          `json:"reason"`
}

// DecodeResult is the outcome of parse-or-skip decoding.
type DecodeResult[T any] struct {
	// Items are the records that decoded and validated, in file order.
	Items []T
	// Rejected lists the elements that were skipped.
	Rejected []Rejected
	// RawCount is the number of elements in the on-disk array.
	RawCount int
	// Corrupt is true when the file is not a JSON array at all. RawCount is
	// unknown in that case.
	Corrupt bool
}

// Lossy reports whether writing Items back would drop records that exist on
// disk.
func (r DecodeResult[T]) Lossy() bool {
	return r.Corrupt || len(r.Items) < r.RawCount
}

// DecodeRecords decodes a JSON array element by element. Elements that fail
// to decode or validate are skipped and reported in Rejected; they never
// hide their siblings. Empty input is an empty collection. Input that is not
// a JSON array returns a *errors.ParseError and a result marked Corrupt.
func DecodeRecords[T any](data []byte) (DecodeResult[T], error) {
	result := DecodeResult[T]{Items: []T{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return result, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		result.Corrupt = true
		return result, errors.NewParseError("", err)
	}
	result.RawCount = len(raw)

	for i, elem := range raw {
		item, err := decodeRecord[T](elem)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejected{Index: i, Raw: elem, Reason: err.Error()})
			continue
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func decodeRecord[T any](elem json.RawMessage) (T, error) {
	var item T
	if err := json.Unmarshal(elem, &item); err != nil {
		return item, fmt.Errorf("decode: %w", err)
	}
	if err := validateRecord(&item); err != nil {
		return item, err
	}
	return item, nil
}

// validateRecord runs struct validation and converts failures into a
// *errors.ValidationError listing every violating field.
func validateRecord(v any) error {
	err := recordValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.NewValidationError("record invalid").WithCause(err)
	}
	verr := errors.NewValidationError("record invalid")
	for _, fe := range fieldErrs {
		// Namespace is "Task.acceptance[0].description"; drop the type name
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		verr = verr.WithFields(errors.FieldViolation{
			Field: field,
			Rule:  fe.Tag(),
			Value: fe.Value(),
		})
	}
	return verr
}
