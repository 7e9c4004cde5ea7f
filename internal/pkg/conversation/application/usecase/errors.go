package usecase

import (
	"errors"
	"fmt"
)

// ErrPersistence indicates an infrastructure/repository failure inside a use case
var ErrPersistence = fmt.Errorf("conversation use case persistence error")

var ErrMissingUserID = errors.New("conversation: user id is required")
