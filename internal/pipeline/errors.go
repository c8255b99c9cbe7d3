package pipeline

import (
	"errors"
	"fmt"
)

// ErrDuplicateMessage indicates an inbound message whose fingerprint is
// already in the conversation log. It is benign: the item is skipped.
var ErrDuplicateMessage = errors.New("pipeline: duplicate message")

// GenerationError indicates that reply generation failed after the
// configured number of attempts.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err (or any error in its chain) is a
// GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// DeliveryError indicates that dispatch failed after the configured
// number of attempts. The outgoing record exists in the store, so the
// state is "recorded but undelivered", not data loss.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err (or any error in its chain) is a
// DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// CollaboratorError indicates that an external collaborator (mail
// transport, language model, store) is unreachable. It drives health
// degradation; the reconnect-all path triggers only when every
// collaborator fails at once.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s unreachable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
