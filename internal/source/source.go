// Package source defines the discovery contract shared by the source adapters.
//
// Adapters only read from their remote source; everything they find is
// returned as descriptors for the download stage.
package source

import (
	"context"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// Source enumerates candidate objects.
type Source interface {
	Discover(ctx context.Context) ([]object.Descriptor, error)
}

// Emit writes every descriptor to w, stopping at the first error.
func Emit(w *object.Writer, descs []object.Descriptor) error {
	for _, d := range descs {
		if err := w.Append(d); err != nil {
			return err
		}
	}
	return nil
}
