package protocol

// DefaultLanguage is used before hydration and whenever a sync payload
// omits the language.
const DefaultLanguage = "python"

// Language is one entry of the fixed set of executable languages.
type Language struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var languages = []Language{
	{Value: "java", Label: "Java"},
	{Value: "python", Label: "Python"},
	{Value: "cpp", Label: "C++"},
	{Value: "c", Label: "C"},
	{Value: "csharp", Label: "C#"},
	{Value: "go", Label: "Go"},
	{Value: "rust", Label: "Rust"},
	{Value: "javascript", Label: "JavaScript"},
	{Value: "ruby", Label: "Ruby"},
	{Value: "php", Label: "PHP"},
	{Value: "kotlin", Label: "Kotlin"},
}

// Languages returns the supported languages in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// IsSupported reports whether value names a supported language.
func IsSupported(value string) bool {
	for _, l := range languages {
		if l.Value == value {
			return true
		}
	}
	return false
}

// LanguageLabel returns the display label for value, or value itself.
func LanguageLabel(value string) string {
	for _, l := range languages {
		if l.Value == value {
			return l.Label
		}
	}
	return value
}
