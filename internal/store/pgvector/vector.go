package pgvector

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// FormatVector renders v in pgvector text form, e.g. "[1,2.5,-3]".
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses the pgvector text form.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// VectorCodec is a text-format pgtype codec for the pgvector "vector" type.
// It encodes []float32 and pre-formatted strings and scans into *[]float32
// or *string.
type VectorCodec struct{}

var _ pgtype.Codec = VectorCodec{}

func (VectorCodec) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode
}

func (VectorCodec) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

func (VectorCodec) PlanEncode(_ *pgtype.Map, _ uint32, format int16, value any) pgtype.EncodePlan {
	if format != pgtype.TextFormatCode {
		return nil
	}
	switch value.(type) {
	case []float32:
		return encodeFloat32s{}
	case string:
		return encodeString{}
	}
	return nil
}

func (VectorCodec) PlanScan(_ *pgtype.Map, _ uint32, format int16, target any) pgtype.ScanPlan {
	if format != pgtype.TextFormatCode {
		return nil
	}
	switch target.(type) {
	case *[]float32:
		return scanFloat32s{}
	case *string:
		return scanString{}
	}
	return nil
}

func (c VectorCodec) DecodeDatabaseSQLValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}
	return string(src), nil
}

func (c VectorCodec) DecodeValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	return ParseVector(string(src))
}

type encodeFloat32s struct{}

func (encodeFloat32s) Encode(value any, buf []byte) ([]byte, error) {
	v := value.([]float32)
	if v == nil {
		return nil, nil
	}
	return append(buf, FormatVector(v)...), nil
}

type encodeString struct{}

func (encodeString) Encode(value any, buf []byte) ([]byte, error) {
	return append(buf, value.(string)...), nil
}

type scanFloat32s struct{}

func (scanFloat32s) Scan(src []byte, target any) error {
	dst := target.(*[]float32)
	if src == nil {
		*dst = nil
		return nil
	}
	v, err := ParseVector(string(src))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

type scanString struct{}

func (scanString) Scan(src []byte, target any) error {
	if src == nil {
		return fmt.Errorf("cannot scan NULL vector into *string")
	}
	*target.(*string) = string(src)
	return nil
}
