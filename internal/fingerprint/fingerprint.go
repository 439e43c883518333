// Package fingerprint derives the cache key of a calculation request.
//
// Two requests with the same kind and semantically equal inputs always map to
// the same key: map ordering does not matter and every number is normalized to
// a double, so 10000 and 10000.0 collide on purpose.
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// ErrEmptyKind is returned when the calculator kind is missing.
var ErrEmptyKind = fmt.Errorf("%w: empty calculator kind", types.ErrValidation)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// Compute returns "<kind>:<16 hex digits>" for kind and input.
func Compute(kind string, input types.Payload) (string, error) {
	if kind == "" {
		return "", ErrEmptyKind
	}

	canonical, err := Canonical(input)
	if err != nil {
		return "", err
	}

	d := xxhash.New()
	_, _ = d.WriteString(kind)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(canonical)

	return fmt.Sprintf("%s:%016x", kind, d.Sum64()), nil
}

// Canonical returns the deterministic byte encoding of input used for hashing.
// A nil payload encodes the same as an empty one.
func Canonical(input types.Payload) ([]byte, error) {
	s, err := structpb.NewStruct(normalize(input))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported input value: %v", types.ErrValidation, err)
	}
	b, err := marshalOpts.Marshal(s)
	if err != nil {
		return nil, errors.Join(types.ErrValidation, err)
	}
	return b, nil
}

// normalize widens the typed containers structpb does not accept on its own.
func normalize(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case types.Payload:
		return normalize(t)
	case map[string]interface{}:
		return normalize(t)
	case []types.Payload:
		list := make([]interface{}, len(t))
		for i, p := range t {
			list[i] = normalize(p)
		}
		return list
	case []map[string]interface{}:
		list := make([]interface{}, len(t))
		for i, p := range t {
			list[i] = normalize(p)
		}
		return list
	case []interface{}:
		list := make([]interface{}, len(t))
		for i, e := range t {
			list[i] = normalizeValue(e)
		}
		return list
	case []float64:
		list := make([]interface{}, len(t))
		for i, e := range t {
			list[i] = e
		}
		return list
	case []string:
		list := make([]interface{}, len(t))
		for i, e := range t {
			list[i] = e
		}
		return list
	default:
		return v
	}
}
