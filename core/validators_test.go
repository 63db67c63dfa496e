package core

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enrolment struct {
	Matricule  string `json:"matricule" validate:"required,matricule"`
	CourseCode string `json:"courseCode" validate:"required,alphanum_"`
	Comment    string `json:"comment" validate:"notblank"`
	Kind       string `json:"kind" validate:"oneof=closed open"`
}

func TestInitValidators(t *testing.T) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	InitValidators(validate, translator)

	valid := enrolment{Matricule: "ST2026/001", CourseCode: "CS501", Comment: "ok", Kind: "open"}
	tests := []struct {
		name   string
		mutate func(e *enrolment)
		want   map[string]string
	}{
		{name: "valid", mutate: func(e *enrolment) {}},
		{
			name:   "bad matricule",
			mutate: func(e *enrolment) { e.Matricule = "/ST" },
			want:   map[string]string{"matricule": "invalid matricule"},
		},
		{
			name:   "missing matricule",
			mutate: func(e *enrolment) { e.Matricule = "" },
			want:   map[string]string{"matricule": requiredText},
		},
		{
			name:   "blank comment and bad course code",
			mutate: func(e *enrolment) { e.Comment = "   "; e.CourseCode = "CS-501" },
			want: map[string]string{
				"comment":    "this field cannot be blank",
				"courseCode": "only alphanumeric characters and underscores are allowed",
			},
		},
		{
			name:   "unknown kind",
			mutate: func(e *enrolment) { e.Kind = "essay" },
			want:   map[string]string{"kind": "must be one of: closed, open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := validate.Struct(e)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var vErrs validator.ValidationErrors
			require.ErrorAs(t, err, &vErrs)
			assert.Equal(t, tt.want, TranslateErrors(vErrs, translator))
		})
	}
}
