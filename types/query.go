package types

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type QAParams struct {
	Question string `json:"question" form:"question" validate:"required,max=4000"`
	DocID    string `json:"doc_id" form:"doc_id" validate:"omitempty,max=128"`
}

type UploadParams struct {
	DocID   string `form:"doc_id" validate:"omitempty,max=128"`
	Replace bool   `form:"replace"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QAParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *UploadParams) Validate() map[string]string {
	return validateStruct(params)
}

// ValidateStruct exposes the shared validator to other packages (config).
func ValidateStruct(s any) error {
	return validate.Struct(s)
}

func validateStruct(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

type QAResponse struct {
	Answer     string      `json:"answer"`
	DocID      string      `json:"doc_id"`
	QueryType  string      `json:"query_type,omitempty"`
	Candidates []Candidate `json:"candidates"`
	Ingested   *Ingested   `json:"saved_file,omitempty"`
}

type Ingested struct {
	DocID    string `json:"doc_id"`
	Locator  string `json:"path"`
	Filename string `json:"file_name"`
	Bundles  int    `json:"bundles"`
}
