package params

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
	"github.com/google/uuid"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
)

// TimeLayouts are tried in order when converting text to time.Time.
var TimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

var reflectKinds = map[descriptor.ValueKind]reflect.Type{
	descriptor.KindInt:     reflect.TypeOf(int(0)),
	descriptor.KindInt64:   reflect.TypeOf(int64(0)),
	descriptor.KindFloat32: reflect.TypeOf(float32(0)),
	descriptor.KindFloat64: reflect.TypeOf(float64(0)),
	descriptor.KindBool:    reflect.TypeOf(false),
	descriptor.KindUint8:   reflect.TypeOf(uint8(0)),
}

// Convert turns captured text into a value of the given kind.
// enum is consulted only for descriptor.KindEnum.
func Convert(kind descriptor.ValueKind, enum *descriptor.EnumType, text string) (any, error) {
	switch kind {
	case descriptor.KindString, descriptor.KindAny, "":
		return text, nil
	case descriptor.KindTime:
		return parseTime(text)
	case descriptor.KindUUID:
		id, err := uuid.Parse(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a uuid: %v", ErrConversion, text, err)
		}
		return id, nil
	case descriptor.KindEnum:
		return convertEnum(enum, text)
	case descriptor.KindDataTable, descriptor.KindDocString:
		return nil, fmt.Errorf("%w: %s values cannot come from step text", ErrConversion, kind)
	}
	t, ok := reflectKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrConversion, kind)
	}
	s := strings.TrimSpace(text)
	if kind == descriptor.KindBool {
		s = strings.ToLower(s)
	}
	v, err := cast.FromType(s, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid %s: %v", ErrConversion, text, kind, err)
	}
	return v, nil
}

func parseTime(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	for _, layout := range TimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a recognized date/time", ErrConversion, text)
}

func convertEnum(enum *descriptor.EnumType, text string) (any, error) {
	if enum == nil {
		return nil, fmt.Errorf("%w: enum kind without enum type", ErrConversion)
	}
	if len(enum.Values) == 0 {
		return text, nil
	}
	s := strings.TrimSpace(text)
	for _, v := range enum.Values {
		if strings.EqualFold(v, s) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not a value of %s (%s)", ErrConversion, text, enum.FullName, strings.Join(enum.Values, ", "))
}

// Unquote strips escape backslashes from a quoted string capture.
func Unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteRune('\\')
	}
	return b.String()
}
