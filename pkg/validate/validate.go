// Package validate exposes one process-wide validator.Validate instance,
// mirroring the teacher's own pkg/validate singleton (referenced by
// pkg/workingset and pkg/catalog_next as validate.Get().Struct(...)).
package validate

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Get returns the shared validator instance, constructing it on first use.
func Get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}
