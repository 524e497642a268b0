package bootstrap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"pngtools/internal/interp"
)

// ToExitCode converts a cmdloop result to an exit code. Integers must fit in
// 32 bits, booleans count as 0 or 1 and floats must hold an exact integer.
func ToExitCode(v interp.Value) (int, error) {
	switch x := v.(type) {
	case int:
		return fromInt64(int64(x))
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		return fromInt64(x)
	case uint:
		return fromUint64(uint64(x))
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return fromUint64(uint64(x))
	case uint64:
		return fromUint64(x)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	case json.Number:
		return fromNumber(x)
	case *interp.Foreign:
		return fromForeign(x)
	case nil:
		return 0, fmt.Errorf("cannot use None as an exit code")
	}
	return 0, fmt.Errorf("cannot use %T value %v as an exit code", v, v)
}

func fromInt64(n int64) (int, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("exit code %d out of range", n)
	}
	return int(n), nil
}

func fromUint64(n uint64) (int, error) {
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("exit code %d out of range", n)
	}
	return int(n), nil
}

func fromFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("float %v is not an integer", f)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("exit code %v out of range", f)
	}
	return int(f), nil
}

func fromNumber(n json.Number) (int, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return fromInt64(i)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("exit code %s out of range", n)
	}
	return fromFloat(f)
}

func fromForeign(f *interp.Foreign) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(f.Data))
	dec.UseNumber()

	var v any
	if len(f.Data) > 0 {
		if err := dec.Decode(&v); err != nil {
			return 0, fmt.Errorf("decode %s value: %w", f.Type, err)
		}
	}

	switch x := v.(type) {
	case bool:
		return ToExitCode(x)
	case json.Number:
		return fromNumber(x)
	}
	return 0, fmt.Errorf("%s object %s cannot be interpreted as an integer", f.Type, f.Repr)
}
