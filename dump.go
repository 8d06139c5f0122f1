package riglog

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
)

const (
	maxDumpDepth    = 10
	maxDumpElements = 10
)

// Dump logs v at debug level, one record per leaf value, each carrying a
// "path" field such as "Rig.Sinks[0].Host". Exported struct fields, map
// entries and the first elements of slices are walked; cycles and deep
// nesting are cut short. Nothing is evaluated unless debug is enabled.
func (l *Logger) Dump(v any) {
	if !l.Enabled(zerolog.DebugLevel) {
		return
	}
	d := dumper{log: l, visited: make(map[uintptr]bool)}
	d.walk(reflect.ValueOf(v), emptyString, 0)
}

type dumper struct {
	log     EventLogger
	visited map[uintptr]bool
}

func (d dumper) emit(path string, format string, args ...any) {
	if path == emptyString {
		path = "."
	}
	d.log.DebugWith().Str("path", path).Msgf(format, args...)
}

func (d dumper) walk(val reflect.Value, path string, depth int) {
	if depth > maxDumpDepth {
		d.emit(path, "<max depth reached>")
		return
	}
	for val.IsValid() && (val.Kind() == reflect.Interface || val.Kind() == reflect.Pointer) {
		if val.IsNil() {
			d.emit(path, "<nil>")
			return
		}
		if val.Kind() == reflect.Pointer {
			ptr := val.Pointer()
			if d.visited[ptr] {
				d.emit(path, "<circular reference>")
				return
			}
			d.visited[ptr] = true
		}
		val = val.Elem()
	}
	if !val.IsValid() {
		d.emit(path, "<nil>")
		return
	}

	typ := val.Type()
	switch val.Kind() {
	case reflect.Struct:
		d.emit(path, "%s {", typ.String())
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			d.walk(val.Field(i), join(path, field.Name), depth+1)
		}
	case reflect.Map:
		d.emit(path, "%s (len %d)", typ.String(), val.Len())
		iter := val.MapRange()
		for iter.Next() {
			d.walk(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key()), depth+1)
		}
	case reflect.Slice, reflect.Array:
		d.emit(path, "%s (len %d)", typ.String(), val.Len())
		n := val.Len()
		for i := 0; i < n && i < maxDumpElements; i++ {
			d.walk(val.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1)
		}
		if n > maxDumpElements {
			d.emit(path, "... %d more elements", n-maxDumpElements)
		}
	default:
		if val.CanInterface() {
			d.emit(path, "%v", val.Interface())
			return
		}
		d.emit(path, "%v", val)
	}
}

func join(path, name string) string {
	if path == emptyString {
		return name
	}
	return path + "." + name
}
