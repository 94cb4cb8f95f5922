package busclient

import "github.com/sailfishos-mce/mce-core/internal/errcode"

// Args is the payload shape for a multi-argument bus method call: an
// ordered list of untyped arguments, mirroring a D-Bus method's
// argument list. The Arg* helpers enforce a type check before
// extraction (§4.8 "mce_dbus_iter_* helpers enforce type checks before
// extracting values").
type Args []any

func ArgString(a Args, idx int) (string, error) {
	v, err := argAt(a, idx)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errcode.New(errcode.InvalidParams, "busclient.ArgString", "argument is not a string")
	}
	return s, nil
}

func ArgInt32(a Args, idx int) (int32, error) {
	v, err := argAt(a, idx)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int32:
		return n, nil
	case int:
		return int32(n), nil
	case float64:
		return int32(n), nil
	default:
		return 0, errcode.New(errcode.InvalidParams, "busclient.ArgInt32", "argument is not an integer")
	}
}

func ArgBool(a Args, idx int) (bool, error) {
	v, err := argAt(a, idx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errcode.New(errcode.InvalidParams, "busclient.ArgBool", "argument is not a bool")
	}
	return b, nil
}

// ArgTupleArray extracts a bus "array of arrays" argument, the shape
// used for audio-routing policy decisions (§4.7, §6.3): a slice of
// fixed-arity records.
func ArgTupleArray(a Args, idx int) ([][]any, error) {
	v, err := argAt(a, idx)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errcode.New(errcode.InvalidParams, "busclient.ArgTupleArray", "argument is not an array")
	}
	out := make([][]any, 0, len(raw))
	for _, item := range raw {
		tuple, ok := item.([]any)
		if !ok {
			return nil, errcode.New(errcode.InvalidParams, "busclient.ArgTupleArray", "element is not a tuple")
		}
		out = append(out, tuple)
	}
	return out, nil
}

func argAt(a Args, idx int) (any, error) {
	if idx < 0 || idx >= len(a) {
		return nil, errcode.New(errcode.InvalidParams, "busclient.argAt", "argument index out of range")
	}
	return a[idx], nil
}
