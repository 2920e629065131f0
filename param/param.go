// Package param reads and writes the per-module parameter files: plain
// text, lines grouped under [category] headers, each line
// "name = value ; description". Unknown fields are ignored with a warning;
// missing fields keep their compiled defaults.
package param

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"iscpipe/dplerr"
)

// Type tags a field's value domain in the file.
type Type int

const (
	Int Type = iota
	Float
	Double
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	}
	return "invalid"
}

// Field is one parameter: category, name, type tag, value and the
// human-readable description persisted next to it.
type Field struct {
	Category    string
	Name        string
	Type        Type
	Value       float64
	Description string
}

// Set is an ordered parameter collection for one module. Field order is
// preserved so a rewritten file diffs cleanly.
type Set struct {
	module string
	fields []Field
	index  map[string]int
}

func key(category, name string) string { return category + "/" + name }

// NewSet builds a parameter set from compiled defaults. The module name
// prefixes warnings.
func NewSet(module string, defaults []Field) *Set {
	s := &Set{
		module: module,
		fields: append([]Field(nil), defaults...),
		index:  make(map[string]int, len(defaults)),
	}
	for i, f := range s.fields {
		s.index[key(f.Category, f.Name)] = i
	}
	return s
}

// Fields returns a copy of the current fields in file order.
func (s *Set) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Get returns a field's value.
func (s *Set) Get(category, name string) (float64, error) {
	i, ok := s.index[key(category, name)]
	if !ok {
		return 0, fmt.Errorf("param: %s: no field %s/%s: %w", s.module, category, name, dplerr.ErrInvalidParameter)
	}
	return s.fields[i].Value, nil
}

// Int returns a field's value truncated to int.
func (s *Set) Int(category, name string) (int, error) {
	v, err := s.Get(category, name)
	return int(v), err
}

// SetValue updates a field. Int fields reject fractional values.
func (s *Set) SetValue(category, name string, v float64) error {
	i, ok := s.index[key(category, name)]
	if !ok {
		return fmt.Errorf("param: %s: no field %s/%s: %w", s.module, category, name, dplerr.ErrInvalidParameter)
	}
	if s.fields[i].Type == Int && v != float64(int64(v)) {
		return fmt.Errorf("param: %s: %s/%s is int, got %v: %w", s.module, category, name, v, dplerr.ErrInvalidParameter)
	}
	s.fields[i].Value = v
	return nil
}

// Load overlays values from path onto the compiled defaults. A missing
// file is not an error; the defaults stand. Unknown fields warn once and
// are dropped. Unparsable values warn and keep the default.
func (s *Set) Load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("param: %s: open %s: %w", s.module, path, err)
	}
	defer f.Close()

	category := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			category = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		name, rest, ok := strings.Cut(line, "=")
		if !ok {
			log.Printf("param: %s: skipping malformed line %q", s.module, line)
			continue
		}
		name = strings.TrimSpace(name)
		value, _, _ := strings.Cut(rest, ";")
		value = strings.TrimSpace(value)

		i, known := s.index[key(category, name)]
		if !known {
			log.Printf("param: %s: unknown field %s/%s ignored", s.module, category, name)
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Printf("param: %s: bad value for %s/%s: %q, keeping default", s.module, category, name, value)
			continue
		}
		if s.fields[i].Type == Int {
			v = float64(int64(v))
		}
		s.fields[i].Value = v
	}
	return sc.Err()
}

// Save writes the set to path in the file format, grouped by category in
// field order.
func (s *Set) Save(path string) error {
	var b strings.Builder
	category := ""
	for _, f := range s.fields {
		if f.Category != category {
			if category != "" {
				b.WriteString("\n")
			}
			category = f.Category
			fmt.Fprintf(&b, "[%s]\n", category)
		}
		fmt.Fprintf(&b, "%s = %s ; %s\n", f.Name, formatValue(f), f.Description)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("param: %s: create dir for %s: %w", s.module, path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("param: %s: write %s: %w", s.module, path, err)
	}
	return nil
}

func formatValue(f Field) string {
	if f.Type == Int {
		return strconv.FormatInt(int64(f.Value), 10)
	}
	return strconv.FormatFloat(f.Value, 'g', -1, 64)
}
