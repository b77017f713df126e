package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// bindTagged walks the exported fields of the struct behind v that carry tag
// and assigns lookup(name) to each. Fields tagged "-" and fields whose lookup
// returns nothing keep their zero value. Every failure wraps sentinel.
func bindTagged(v any, tag string, sentinel error, lookup func(name string) []string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", sentinel)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must be a pointer to struct", sentinel)
	}

	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		raw, ok := sf.Tag.Lookup(tag)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(raw, ",")
		if name == "" || name == "-" {
			continue
		}
		values := lookup(name)
		if len(values) == 0 || (len(values) == 1 && values[0] == "") {
			continue
		}
		if err := assign(rv.Field(i), values); err != nil {
			return fmt.Errorf("%w: %s: %v", sentinel, name, err)
		}
	}
	return nil
}

// assign converts values into dst. Pointers are allocated, slices accept
// repeated and comma-separated values, scalars take the first value.
func assign(dst reflect.Value, values []string) error {
	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), values); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Slice:
		var parts []string
		for _, v := range values {
			for p := range strings.SplitSeq(v, ",") {
				parts = append(parts, strings.TrimSpace(p))
			}
		}
		out := reflect.MakeSlice(dst.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := assign(out.Index(i), []string{p}); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	}

	s := values[0]
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", s)
		}
		dst.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", s)
		}
		dst.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", dst.Kind())
	}
	return nil
}
