package script

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
)

// FromStarlark converts an interpreter value into a plain Go value suitable
// for JSON serialization on the protocol stream. Integers that fit int64
// stay integral; larger ones are carried as json.Number so they serialize
// without precision loss.
func FromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return json.Number(v.String()), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Tuple:
		return fromIndexable(v.Len(), v.Index)
	case *starlark.List:
		return fromIndexable(v.Len(), v.Index)
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("cannot serialize dict key of type %s", item[0].Type())
			}
			val, err := FromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot serialize value of type %s", v.Type())
	}
}

func fromIndexable(n int, index func(int) starlark.Value) ([]any, error) {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		elem, err := FromStarlark(index(i))
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

// ToStarlark converts a decoded JSON value into an interpreter value.
func ToStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("unparseable number %q", string(v))
		}
		return starlark.Float(f), nil
	case []any:
		list := starlark.NewList(nil)
		for _, elem := range v {
			converted, err := ToStarlark(elem)
			if err != nil {
				return nil, err
			}
			if err := list.Append(converted); err != nil {
				return nil, err
			}
		}
		return list, nil
	case map[string]any:
		dict := starlark.NewDict(len(v))
		for key, elem := range v {
			converted, err := ToStarlark(elem)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// ParamsToStarlark decodes a raw JSON params payload into an interpreter
// value. Absent params become None. Numbers are decoded with UseNumber so
// integral params reach the method as ints, not floats.
func ParamsToStarlark(raw json.RawMessage) (starlark.Value, error) {
	if len(raw) == 0 {
		return starlark.None, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return ToStarlark(v)
}
