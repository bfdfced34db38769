// Package bitfield packs and unpacks struct fields into a single integer
// using `bitfield:"n"` struct tags. It is a trimmed, generalized version of
// the teacher kernel's own bitfield package (itself based on
// golang.org/x/text/internal/gen/bitfield). PageFlags (page_flags.go),
// the page-table and memory permission bits, is the one packed type
// built on it; handle kinds and thread/process status are plain integer
// types that do not go through this package.
package bitfield

import (
	"fmt"
	"reflect"
)

// Config determines the packed width. NumBits defaults to 64 when zero.
type Config struct {
	NumBits uint
}

// Pack packs the tagged fields of the struct x (or *x) into an integer, in
// declaration order starting at bit 0.
func Pack(x interface{}, c *Config) (uint64, error) {
	if c == nil {
		c = &Config{NumBits: 64}
	}

	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("bitfield: Pack expected struct, got %v", v.Kind())
	}

	var packed uint64
	var bitOffset uint
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok := fieldBits(field)
		if !ok || bits == 0 {
			continue
		}

		fieldValue, err := extractBits(v.Field(i), bits)
		if err != nil {
			return 0, fmt.Errorf("bitfield: field %s: %w", field.Name, err)
		}

		packed |= fieldValue << bitOffset
		bitOffset += bits
	}

	if c.NumBits > 0 && bitOffset > c.NumBits {
		return 0, fmt.Errorf("bitfield: total bits %d exceeds NumBits %d", bitOffset, c.NumBits)
	}

	return packed, nil
}

// Unpack is the inverse of Pack: it distributes bits of packed into the
// tagged fields of x, which must be a pointer to a struct.
func Unpack(x interface{}, packed uint64) error {
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bitfield: Unpack expects a pointer to struct")
	}
	v = v.Elem()
	t := v.Type()

	var bitOffset uint
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok := fieldBits(field)
		if !ok || bits == 0 {
			continue
		}

		mask := uint64(1)<<bits - 1
		value := (packed >> bitOffset) & mask
		if err := assignBits(v.Field(i), value); err != nil {
			return fmt.Errorf("bitfield: field %s: %w", field.Name, err)
		}

		bitOffset += bits
	}

	return nil
}

func fieldBits(field reflect.StructField) (uint, bool) {
	tag := field.Tag.Get("bitfield")
	if tag == "" {
		return 0, false
	}

	var bits uint
	if _, err := fmt.Sscanf(tag, ",%d", &bits); err != nil {
		return 0, false
	}
	return bits, true
}

func extractBits(fieldValue reflect.Value, bits uint) (uint64, error) {
	var value uint64

	switch fieldValue.Kind() {
	case reflect.Bool:
		if fieldValue.Bool() {
			value = 1
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = fieldValue.Uint()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		signed := fieldValue.Int()
		if signed < 0 {
			return 0, fmt.Errorf("negative value %d", signed)
		}
		value = uint64(signed)
	default:
		return 0, fmt.Errorf("unsupported field type %v", fieldValue.Kind())
	}

	maxValue := uint64(1)<<bits - 1
	if value > maxValue {
		return 0, fmt.Errorf("value %d exceeds %d bits", value, bits)
	}

	return value, nil
}

func assignBits(fieldValue reflect.Value, value uint64) error {
	switch fieldValue.Kind() {
	case reflect.Bool:
		fieldValue.SetBool(value != 0)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fieldValue.SetUint(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fieldValue.SetInt(int64(value))
	default:
		return fmt.Errorf("unsupported field type %v", fieldValue.Kind())
	}
	return nil
}
