package core

import (
	"reflect"
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
)

var (
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)
	matriculeRegex     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.-]*$`)

	requiredText = "this field is required"
)

// customValidators are the tags our models use on top of the validator's baked-in ones.
var customValidators = []struct {
	tag  string
	text string
	fn   validator.Func
}{
	{
		tag:  "alphanum_",
		text: "only alphanumeric characters and underscores are allowed",
		fn:   func(fl validator.FieldLevel) bool { return alphaNumUnderRegex.MatchString(fl.Field().String()) },
	},
	{
		tag:  "matricule",
		text: "invalid matricule",
		fn:   func(fl validator.FieldLevel) bool { return matriculeRegex.MatchString(fl.Field().String()) },
	},
	{
		tag:  "notblank",
		text: "this field cannot be blank",
		fn:   func(fl validator.FieldLevel) bool { return strings.TrimSpace(fl.Field().String()) != "" },
	},
}

// InitValidators registers the custom tags and english messages on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// errors are keyed by JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	for _, cv := range customValidators {
		_ = validate.RegisterValidation(cv.tag, cv.fn)
		RegisterCustomTranslation(validate, translator, cv.tag, cv.text)
	}
	RegisterCustomTranslation(validate, translator, "required", requiredText, true)
	RegisterCustomTranslation(validate, translator, "required_with", requiredText, true)

	err := validate.RegisterTranslation(
		"oneof", translator,
		func(t ut.Translator) error { return t.Add("oneof", "must be one of: {0}", true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T("oneof", strings.ReplaceAll(fe.Param(), " ", ", "))
			return s
		},
	)
	if err != nil {
		panic(errors.Wrap(err, "registering oneof translation"))
	}
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	ovrd := len(override) > 0 && override[0]
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// TranslateErrors flattens validator errors into a {field: message} map.
func TranslateErrors(errs validator.ValidationErrors, translator ut.Translator) map[string]string {
	fldErrs := make(map[string]string, len(errs))
	for _, vErr := range errs {
		fldErrs[fieldPath(vErr)] = vErr.Translate(translator)
	}
	return fldErrs
}

// fieldPath drops the top-level struct name from the namespace, e.g. "answers[0].questionId".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
