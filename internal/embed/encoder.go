// Package embed defines the embedding capability used by indexing and
// querying. Implementations map text to fixed-length vectors, preserving
// input order, and distinguish transient from fatal provider errors.
package embed

import (
	"context"
	"errors"

	"github.com/curatelab/crossmap/internal/domain"
)

// Encoder vectorizes a batch of texts. The returned slice has one vector
// per input text, in input order.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// IsTransient reports whether err is worth retrying (timeout, rate limit,
// provider 5xx). Context cancellation is never transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, domain.ErrProviderTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}
