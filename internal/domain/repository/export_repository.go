package repository

import (
	"io"
	"iter"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
)

// ExportRepository writes canonical entities as a JSON array.
type ExportRepository interface {
	// Encode streams seq to w and returns the number of entities written.
	Encode(w io.Writer, seq iter.Seq2[entity.Entity, error]) (int, error)

	// ExportToJSON streams seq into a timestamped file in outputDir and
	// returns its absolute path.
	ExportToJSON(seq iter.Seq2[entity.Entity, error], filename, outputDir string) (string, int, error)
}
