package params

import "github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"

// Built-in type names used by the expression compiler.
const (
	AnonymousName = ""
	StringName    = "string"
	WordName      = "word"
)

const (
	intRegex   = `-?\d+`
	floatRegex = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`
	wordRegex  = `[^\s]+`
	uuidRegex  = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`
	timeRegex  = `\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[-+]\d{2}:?\d{2})?)?|\d{1,2}/\d{1,2}/\d{4}(?: \d{2}:\d{2}:\d{2})?`

	doubleQuoted = `"([^"\\]*(?:\\.[^"\\]*)*)"`
	singleQuoted = `'([^'\\]*(?:\\.[^'\\]*)*)'`
)

func unquoted(text string) (any, error) { return Unquote(text), nil }

func builtins() []Transformation {
	return []Transformation{
		{Name: AnonymousName, Kind: descriptor.KindAny, Regexps: []string{`.*`}},
		{Name: StringName, Kind: descriptor.KindString, Regexps: []string{doubleQuoted, singleQuoted}, Captured: true, Transform: unquoted, UseForSnippets: true},
		{Name: WordName, Kind: descriptor.KindString, Regexps: []string{wordRegex}},
		{Name: "int", Aliases: []string{"Int32", "int32"}, Kind: descriptor.KindInt, Regexps: []string{intRegex}, UseForSnippets: true},
		{Name: "int64", Aliases: []string{"long", "Int64"}, Kind: descriptor.KindInt64, Regexps: []string{intRegex}},
		{Name: "float32", Aliases: []string{"float", "Single"}, Kind: descriptor.KindFloat32, Regexps: []string{floatRegex}},
		{Name: "float64", Aliases: []string{"double", "decimal", "Double"}, Kind: descriptor.KindFloat64, Regexps: []string{floatRegex}, UseForSnippets: true},
		{Name: "bool", Aliases: []string{"boolean", "Boolean"}, Kind: descriptor.KindBool, Regexps: []string{`(?i:true|false)`}},
		{Name: "uint8", Aliases: []string{"byte", "Byte"}, Kind: descriptor.KindUint8, Regexps: []string{`\d+`}},
		{Name: "time.Time", Aliases: []string{"datetime", "DateTime"}, Kind: descriptor.KindTime, Regexps: []string{timeRegex}},
		{Name: "uuid.UUID", Aliases: []string{"uuid", "guid", "Guid"}, Kind: descriptor.KindUUID, Regexps: []string{uuidRegex}},
	}
}
