package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrInvalidSubject struct {
	error
}

func NewErrInvalidSubject(subjectID string, reason string) *ErrInvalidSubject {
	return &ErrInvalidSubject{fmt.Errorf("invalid subject %q: %s", subjectID, reason)}
}

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrBoardNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "board")
}
