package channel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the declared kind of a channel value.
type Type int

const (
	TypeAny Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeTuple
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "str"
	case TypeTuple:
		return "tuple"
	default:
		return "any"
	}
}

// TypeOf returns the Type matching a dynamic value.
func TypeOf(v any) Type {
	switch v.(type) {
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case string:
		return TypeString
	case []any, []float64, []int, []bool, []string:
		return TypeTuple
	default:
		return TypeAny
	}
}

// FormatValue converts a value to text independent of the process locale.
// Tuples render as "(a, b, c)".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		return formatTuple(len(x), func(i int) any { return x[i] })
	case []float64:
		return formatTuple(len(x), func(i int) any { return x[i] })
	case []int:
		return formatTuple(len(x), func(i int) any { return x[i] })
	case []bool:
		return formatTuple(len(x), func(i int) any { return x[i] })
	case []string:
		return formatTuple(len(x), func(i int) any { return x[i] })
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatTuple(n int, at func(int) any) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = FormatValue(at(i))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Element returns the i-th element of a tuple value. Negative indices count
// from the end. Out-of-range indices and non-tuple values are ErrBadIndex.
func Element(v any, i int) (any, error) {
	var n int
	var at func(int) any

	switch x := v.(type) {
	case []any:
		n, at = len(x), func(i int) any { return x[i] }
	case []float64:
		n, at = len(x), func(i int) any { return x[i] }
	case []int:
		n, at = len(x), func(i int) any { return x[i] }
	case []bool:
		n, at = len(x), func(i int) any { return x[i] }
	case []string:
		n, at = len(x), func(i int) any { return x[i] }
	default:
		return nil, fmt.Errorf("%w: value of type %T is not indexable", ErrBadIndex, v)
	}

	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrBadIndex, i, n)
	}
	return at(i), nil
}

// Truthy reports the boolean interpretation of a dynamic value: zero
// numbers, empty strings, empty tuples and nil are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case float32:
		return x != 0
	case []any:
		return len(x) > 0
	case []float64:
		return len(x) > 0
	case []int:
		return len(x) > 0
	case []bool:
		return len(x) > 0
	case []string:
		return len(x) > 0
	default:
		return true
	}
}

// ToInt converts a numeric, boolean or numeric-string value to int.
func ToInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case uint32:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		return int(x), nil
	case float32:
		return int(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to int", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

// ToFloat converts a numeric, boolean or numeric-string value to float64.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", x)
		}
		return f, nil
	default:
		n, err := ToInt(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", v)
		}
		return float64(n), nil
	}
}

// ToBool converts a value to bool. Strings accept the strconv.ParseBool
// spellings; everything else follows Truthy.
func ToBool(v any) (bool, error) {
	if s, ok := v.(string); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", s)
		}
		return b, nil
	}
	return Truthy(v), nil
}
