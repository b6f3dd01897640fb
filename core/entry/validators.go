package entry

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/iroils/evalapp/core"
)

var (
	selectionTag  = "selection"
	selectionText = "selection must be one of '" + NotSelected + "' or '" + Selected + "'"
)

// InitValidators registers the entry validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(selectionTag, selectionValidation)
	core.RegisterCustomTranslation(validate, translator, selectionTag, selectionText)
}

// selectionValidation only allows known selection flags.
func selectionValidation(fl validator.FieldLevel) bool {
	_, ok := NormalizeSelection(fl.Field().String())
	return ok
}
