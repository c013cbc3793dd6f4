package dbgp

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrReadOnlyFeature is returned when setting a feature the engine fixes.
var ErrReadOnlyFeature = errors.New("dbgp: feature is read-only")

// Feature is a negotiable engine setting.
type Feature interface {
	Set(value string) error
	String() string
	ReadOnly() bool
	clone() Feature
}

type boolFeature struct {
	value    bool
	readOnly bool
}

func (f *boolFeature) Set(value string) error {
	if f.readOnly {
		return ErrReadOnlyFeature
	}
	switch value {
	case "0":
		f.value = false
	case "1":
		f.value = true
	default:
		return fmt.Errorf("dbgp: %q is not a boolean feature value", value)
	}
	return nil
}

func (f *boolFeature) String() string {
	if f.value {
		return "1"
	}
	return "0"
}

func (f *boolFeature) ReadOnly() bool { return f.readOnly }
func (f *boolFeature) clone() Feature { c := *f; return &c }

type intFeature struct {
	value    int
	readOnly bool
}

func (f *intFeature) Set(value string) error {
	if f.readOnly {
		return ErrReadOnlyFeature
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("dbgp: %q is not a non-negative integer", value)
	}
	f.value = n
	return nil
}

func (f *intFeature) String() string { return strconv.Itoa(f.value) }
func (f *intFeature) ReadOnly() bool { return f.readOnly }
func (f *intFeature) clone() Feature { c := *f; return &c }

type stringFeature struct {
	value    string
	readOnly bool
}

func (f *stringFeature) Set(value string) error {
	if f.readOnly {
		return ErrReadOnlyFeature
	}
	f.value = value
	return nil
}

func (f *stringFeature) String() string { return f.value }
func (f *stringFeature) ReadOnly() bool { return f.readOnly }
func (f *stringFeature) clone() Feature { c := *f; return &c }

// FeatureDefaults seeds the negotiable limits.
type FeatureDefaults struct {
	LanguageName    string
	LanguageVersion string
	MaxChildren     int
	MaxData         int
	MaxDepth        int
}

// FeatureMap holds the engine's features by name.
type FeatureMap struct {
	features map[string]Feature
}

// NewFeatureMap returns the engine's feature set.
func NewFeatureMap(d FeatureDefaults) *FeatureMap {
	if d.LanguageName == "" {
		d.LanguageName = "dasm"
	}
	return &FeatureMap{features: map[string]Feature{
		"language_supports_threads": &boolFeature{false, true},
		"language_name":             &stringFeature{d.LanguageName, true},
		"language_version":          &stringFeature{d.LanguageVersion, true},
		"encoding":                  &stringFeature{"ISO-8859-1", true},
		"protocol_version":          &intFeature{1, true},
		"supports_async":            &boolFeature{false, true},
		"breakpoint_types":          &stringFeature{"line", true},
		"multiple_sessions":         &boolFeature{false, false},
		"max_children":              &intFeature{d.MaxChildren, false},
		"max_data":                  &intFeature{d.MaxData, false},
		"max_depth":                 &intFeature{d.MaxDepth, false},
		"extended_properties":       &boolFeature{false, false},
		"show_hidden":               &boolFeature{false, false},
	}}
}

// Get returns a feature by name.
func (m *FeatureMap) Get(name string) (Feature, bool) {
	f, ok := m.features[name]
	return f, ok
}

// Int returns the value of an integer feature, or 0.
func (m *FeatureMap) Int(name string) int {
	if f, ok := m.features[name].(*intFeature); ok {
		return f.value
	}
	return 0
}

// Names returns all feature names sorted.
func (m *FeatureMap) Names() []string {
	names := make([]string, 0, len(m.features))
	for n := range m.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (m *FeatureMap) Clone() *FeatureMap {
	c := &FeatureMap{features: make(map[string]Feature, len(m.features))}
	for n, f := range m.features {
		c.features[n] = f.clone()
	}
	return c
}
