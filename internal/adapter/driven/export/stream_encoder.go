package export

import (
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

type errFlusher interface {
	Flush() error
}

func flush(w io.Writer) {
	switch f := w.(type) {
	case http.Flusher:
		f.Flush()
	case errFlusher:
		_ = f.Flush()
	}
}

// Encode writes seq to w as a JSON array, one element at a time. Nothing is
// written until the first entity arrives, so an error raised before it
// leaves w untouched and is returned as is.
func Encode(w io.Writer, seq iter.Seq2[entity.Entity, error]) (int, error) {
	n := 0
	for e, err := range seq {
		if err != nil {
			if n == 0 {
				return 0, err
			}
			if _, werr := io.WriteString(w, "]"); werr != nil {
				return n, fmt.Errorf("closing array: %w", werr)
			}
			flush(w)
			return n, &types.StreamError{Emitted: n, Err: err}
		}

		body, err := e.MarshalJSON()
		if err != nil {
			return n, err
		}
		sep := ","
		if n == 0 {
			sep = "["
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return n, fmt.Errorf("writing entity %d: %w", n, err)
		}
		if _, err := w.Write(body); err != nil {
			return n, fmt.Errorf("writing entity %d: %w", n, err)
		}
		n++
		flush(w)
	}

	closing := "]"
	if n == 0 {
		closing = "[]"
	}
	if _, err := io.WriteString(w, closing); err != nil {
		return n, fmt.Errorf("closing array: %w", err)
	}
	flush(w)
	return n, nil
}
