// Package codec centralizes payload encoding for clustered indexes.
//
// Codec selection is a breaking-change boundary: the data file records
// the codec name in its header, and bytes written by one codec are not
// readable through another. Opening an existing file selects the codec
// by its recorded name.
package codec

import "fmt"

// Codec encodes/decodes payload values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "gob":
		return Gob{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when the builder does not set one. Existing
// persisted files are self-describing and ignore this value.
var Default Codec = JSON{}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
