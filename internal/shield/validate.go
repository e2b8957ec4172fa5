package shield

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce  sync.Once
	eventValidate *validator.Validate
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		eventValidate = validator.New()
		eventValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = eventValidate.RegisterValidation("threat_type", func(fl validator.FieldLevel) bool {
			return ThreatType(fl.Field().String()).Valid()
		})
		_ = eventValidate.RegisterValidation("threat_level", func(fl validator.FieldLevel) bool {
			return ThreatLevel(fl.Field().Int()).Valid()
		})
	})
	return eventValidate
}

// Validate checks the event at the engine boundary. Unknown threat types
// unwrap to ErrUnknownThreatType, everything else to ErrInvalidEvent.
func (e ThreatEvent) Validate() error {
	err := eventValidator().Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	fe := verrs[0]
	sentinel := ErrInvalidEvent
	if fe.Tag() == "threat_type" {
		sentinel = ErrUnknownThreatType
	}
	return &ValidationError{
		Field: fe.Field(),
		Value: fmt.Sprintf("%v", fe.Value()),
		Err:   sentinel,
	}
}
