package result

import (
	"fmt"
	"time"

	"github.com/roach88/orq/internal/metamodel"
)

// Convert maps a driver value to the Go representation of a basic type.
// SQLite has no boolean or temporal storage classes: booleans arrive as
// 0/1 and temporal values as text unless the driver parsed them.
func Convert(v any, t metamodel.BasicType) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch t {
	case metamodel.TypeBoolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case float64:
			return x != 0
		case string:
			return x == "1" || x == "true"
		}
	case metamodel.TypeFloat:
		if x, ok := v.(int64); ok {
			return float64(x)
		}
	case metamodel.TypeInteger:
		if x, ok := v.(float64); ok && x == float64(int64(x)) {
			return int64(x)
		}
	case metamodel.TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	case metamodel.TypeTimestamp, metamodel.TypeDate, metamodel.TypeTime:
		if x, ok := v.(time.Time); ok {
			return x
		}
	}
	return v
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
