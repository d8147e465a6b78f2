package checkpoint

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"
)

// opaqueEnvelope is the {"$type","$value"} wire shape spec.md §4.4
// mandates for values that aren't JSON-native: datetimes, tuples,
// sets, bytes, and arbitrary user objects ("pickle").
type opaqueEnvelope struct {
	Type  string          `json:"$type"`
	Value json.RawMessage `json:"$value"`
}

const (
	tagDatetime  = "datetime"
	tagTuple     = "tuple"
	tagSet       = "set"
	tagFrozenset = "frozenset"
	tagBytes     = "bytes"
	tagPickle    = "pickle"
)

// Tuple and Set/FrozenSet are Go-native stand-ins for the source
// language's tuple/set/frozenset value kinds, so round-tripping one
// through a checkpoint store preserves its declared type tag the way
// spec.md §4.4's "tuples must remain tuples, sets must remain sets"
// invariant requires.
type Tuple []any

// Set stands in for an unordered collection. FrozenSet is the same
// shape, tagged separately so round-trip preserves which one a value
// was. Both are plain slices: elements keep the order they were given
// in and duplicates are not removed.
type Set []any
type FrozenSet []any

// encodeValue converts v into whatever goes in a checkpoint's JSON
// document: the value itself if JSON-native, or an opaqueEnvelope
// otherwise.
func encodeValue(v any) (any, error) {
	switch tv := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64,
		map[string]any, []any:
		return v, nil
	case time.Time:
		raw, err := json.Marshal(tv.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		return opaqueEnvelope{Type: tagDatetime, Value: raw}, nil
	case Tuple:
		return wrapSlice(tagTuple, []any(tv))
	case Set:
		return wrapSlice(tagSet, []any(tv))
	case FrozenSet:
		return wrapSlice(tagFrozenset, []any(tv))
	case []byte:
		raw, err := json.Marshal(base64.StdEncoding.EncodeToString(tv))
		if err != nil {
			return nil, err
		}
		return opaqueEnvelope{Type: tagBytes, Value: raw}, nil
	default:
		return picklePack(v)
	}
}

func wrapSlice(tag string, elems []any) (any, error) {
	encoded := make([]any, len(elems))
	for i, e := range elems {
		ev, err := encodeValue(e)
		if err != nil {
			return nil, err
		}
		encoded[i] = ev
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return opaqueEnvelope{Type: tag, Value: raw}, nil
}

// decodeValue is the inverse of encodeValue, applied after a generic
// json.Unmarshal into map[string]any/[]any/primitives has already
// happened: it walks the tree looking for {"$type","$value"} objects
// and replaces them with the Go value they encode.
func decodeValue(v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		typeTag, hasType := tv["$type"].(string)
		rawValue, hasValue := tv["$value"]
		if hasType && hasValue && len(tv) == 2 {
			return decodeEnvelope(typeTag, rawValue)
		}
		out := make(map[string]any, len(tv))
		for k, sub := range tv {
			dv, err := decodeValue(sub)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, sub := range tv {
			dv, err := decodeValue(sub)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeEnvelope(typeTag string, rawValue any) (any, error) {
	switch typeTag {
	case tagDatetime:
		s, ok := rawValue.(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint: datetime envelope value is not a string")
		}
		return time.Parse(time.RFC3339Nano, s)
	case tagBytes:
		s, ok := rawValue.(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint: bytes envelope value is not a string")
		}
		return base64.StdEncoding.DecodeString(s)
	case tagTuple, tagSet, tagFrozenset:
		list, ok := rawValue.([]any)
		if !ok {
			return nil, fmt.Errorf("checkpoint: %s envelope value is not a list", typeTag)
		}
		elems := make([]any, len(list))
		for i, e := range list {
			dv, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = dv
		}
		switch typeTag {
		case tagTuple:
			return Tuple(elems), nil
		case tagSet:
			return Set(elems), nil
		default:
			return FrozenSet(elems), nil
		}
	case tagPickle:
		s, ok := rawValue.(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint: pickle envelope value is not a string")
		}
		return pickleUnpack(s)
	default:
		return nil, fmt.Errorf("checkpoint: unknown opaque type tag %q", typeTag)
	}
}

// picklePack is the stand-in for spec.md §4.4's "pickle" tag: an
// implementation-defined but stable encoding for arbitrary user
// objects that aren't covered by the other tags. gob is this core's
// choice, matching Go's own "stable format for the lifetime of a
// running build" guarantee for a registered concrete type.
func picklePack(v any) (any, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(&v); err != nil {
		return nil, fmt.Errorf("checkpoint: pickle-encode %T: %w", v, err)
	}
	raw, err := json.Marshal(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	return opaqueEnvelope{Type: tagPickle, Value: raw}, nil
}

func pickleUnpack(encoded string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(raw)
	dec := gob.NewDecoder(buf)
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("checkpoint: pickle-decode: %w", err)
	}
	return v, nil
}

// RegisterType makes a concrete type eligible for the "pickle" path,
// required by encoding/gob before it will (de)serialize a value of
// that type behind an `any`.
func RegisterType(v any) { gob.Register(v) }
