package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// QueryParams is the request body of every query endpoint.
type QueryParams struct {
	Query string `json:"query" validate:"required,max=4000"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	params.Query = strings.TrimSpace(params.Query)
	return validationErrors(validate.Struct(params))
}

func validationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"request": err.Error()}
	}
	errors := make(map[string]string)
	for _, e := range errs {
		errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return errors
}

// ContextResponse is returned by the retrieval-only endpoint.
type ContextResponse struct {
	Context []string `json:"context"`
}

type SearchResponse struct {
	Answer     string    `json:"answer"`
	Sources    []Source  `json:"sources"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type Source struct {
	SourceID  string  `json:"source_id"`
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}
