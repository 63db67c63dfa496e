package core

import (
	"reflect"
	"strings"
	"time"

	"github.com/kat-co/vala"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Clock is swapped in tests to freeze time.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// NotNil is a vala checker for interface parameters. Unlike vala.IsNotNil it accepts struct values,
// which are never nil.
func NotNil(obj interface{}, name string) vala.Checker {
	return func() (bool, string) {
		v := reflect.ValueOf(obj)
		switch v.Kind() {
		case reflect.Invalid:
			return false, "Parameter was nil: " + name
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
			if v.IsNil() {
				return false, "Parameter was nil: " + name
			}
		}
		return true, ""
	}
}
