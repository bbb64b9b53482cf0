// Package descriptor holds the plain-data shape of bound methods and their
// declaring types, as produced by an external discovery pass.
package descriptor

import (
	"fmt"
	"strings"
)

// ValueKind identifies the target type of a bound method parameter.
type ValueKind string

const (
	KindString    ValueKind = "string"
	KindInt       ValueKind = "int"
	KindInt64     ValueKind = "int64"
	KindFloat32   ValueKind = "float32"
	KindFloat64   ValueKind = "float64"
	KindBool      ValueKind = "bool"
	KindUint8     ValueKind = "uint8"
	KindTime      ValueKind = "time.Time"
	KindUUID      ValueKind = "uuid.UUID"
	KindEnum      ValueKind = "enum"
	KindDataTable ValueKind = "datatable"
	KindDocString ValueKind = "docstring"
	KindAny       ValueKind = "any"
)

// IsBlockArgument reports whether values of this kind come from a step's
// multiline argument rather than from a capture group.
func (k ValueKind) IsBlockArgument() bool {
	return k == KindDataTable || k == KindDocString
}

// EnumType describes an enumerated parameter type.
type EnumType struct {
	FullName string   `yaml:"name" json:"name"`
	Values   []string `yaml:"values" json:"values"`
}

// ShortName returns the last dotted segment of the enum's full name.
func (e *EnumType) ShortName() string {
	if i := strings.LastIndex(e.FullName, "."); i >= 0 {
		return e.FullName[i+1:]
	}
	return e.FullName
}

// Param is one declared parameter of a bound method.
type Param struct {
	Name string    `yaml:"name,omitempty" json:"name,omitempty"`
	Kind ValueKind `yaml:"kind" json:"kind"`
	Enum *EnumType `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// TypeName is the name the parameter registry knows this parameter's type by.
func (p Param) TypeName() string {
	if p.Kind == KindEnum && p.Enum != nil {
		return p.Enum.FullName
	}
	return string(p.Kind)
}

// Method is the descriptor of a bound method.
type Method struct {
	Name          string  `yaml:"name" json:"name"`
	DeclaringType string  `yaml:"type" json:"type"`
	Params        []Param `yaml:"params,omitempty" json:"params,omitempty"`
	Async         bool    `yaml:"async,omitempty" json:"async,omitempty"`
}

// ID returns the method identity used for deduplication and diagnostics.
func (m Method) ID() string {
	if m.DeclaringType == "" {
		return m.Name
	}
	return m.DeclaringType + "." + m.Name
}

// Signature renders the method as Type.Name(kind, kind).
func (m Method) Signature() string {
	kinds := make([]string, len(m.Params))
	for i, p := range m.Params {
		kinds[i] = p.TypeName()
	}
	return fmt.Sprintf("%s(%s)", m.ID(), strings.Join(kinds, ", "))
}

// Type is the descriptor of a type that declares bindings.
type Type struct {
	FullName string `yaml:"name" json:"name"`
	Abstract bool   `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	// Base is the full name of the type this one inherits from, if any.
	Base string `yaml:"base,omitempty" json:"base,omitempty"`
}
