package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ErrInvalidRequest struct {
	error
	Fields []string
}

func newErrInvalidRequest(fieldErrors validator.ValidationErrors) *ErrInvalidRequest {
	fields := make([]string, 0, len(fieldErrors))
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		fields = append(fields, fe.Field())
		messages = append(messages, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return &ErrInvalidRequest{error: fmt.Errorf("invalid request: %s", strings.Join(messages, ", ")), Fields: fields}
}
