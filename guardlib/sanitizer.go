package guardlib

import (
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"
)

// AllowedTags is a list of formatting tags which survive sanitization.
// Every attribute is removed.
var AllowedTags = []string{"b", "i", "em", "strong", "u", "s", "code"}

// DefaultSensitiveFields are fields whose values are never written to
// security events.
var DefaultSensitiveFields = []string{
	"password",
	"confirmPassword",
	"currentPassword",
	"newPassword",
	"token",
	"secret",
}

// skipContent are elements whose content is dropped together with the
// element itself.
var skipContent = map[string]bool{
	"script":    true,
	"style":     true,
	"textarea":  true,
	"title":     true,
	"iframe":    true,
	"noembed":   true,
	"noframes":  true,
	"noscript":  true,
	"plaintext": true,
	"xmp":       true,
	"object":    true,
	"embed":     true,
	"template":  true,
	"frameset":  true,
	"svg":       true,
	"math":      true,
}

// quoteUnescaper restores quotes escaped by both passes. Attributes never
// survive sanitization, so quotes in text content are inert.
var quoteUnescaper = strings.NewReplacer("&#39;", "'", "&#34;", `"`)

// FieldChange describes a modified field. Path is a dotted path for JSON
// documents and a parameter name for forms and queries.
type FieldChange struct {
	Path   string
	Before string
	After  string
}

// Sanitizer is a two-pass allow-list HTML sanitizer. The first pass is a
// tokenizer which keeps only allowed tags without attributes and escapes
// text. The second pass is bluemonday with the same allow-list. The result
// is stable: sanitizing it again yields the same string.
//
// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	allowed map[string]bool
	policy  *bluemonday.Policy
}

// String sanitizes a single value.
func (s *Sanitizer) String(value string) string {
	value = strings.ToValidUTF8(value, "�")

	if !strings.ContainsAny(value, "<>&") {
		return value
	}

	return quoteUnescaper.Replace(s.policy.Sanitize(s.tokenize(value)))
}

func (s *Sanitizer) tokenize(value string) string {
	builder := strings.Builder{}
	tokenizer := nethtml.NewTokenizer(strings.NewReader(value))
	skipUntil := ""

	for {
		tokenType := tokenizer.Next()
		if tokenType == nethtml.ErrorToken {
			return builder.String()
		}

		token := tokenizer.Token()

		if skipUntil != "" {
			if tokenType == nethtml.EndTagToken && token.Data == skipUntil {
				skipUntil = ""
			}

			continue
		}

		switch tokenType { //nolint: exhaustive
		case nethtml.TextToken:
			builder.WriteString(html.EscapeString(token.Data))
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			if skipContent[token.Data] {
				if tokenType == nethtml.StartTagToken {
					skipUntil = token.Data
				}

				continue
			}

			if s.allowed[token.Data] {
				token.Attr = nil
				token.Type = nethtml.StartTagToken
				builder.WriteString(token.String())
			}
		case nethtml.EndTagToken:
			if s.allowed[token.Data] {
				token.Attr = nil
				builder.WriteString(token.String())
			}
		}
	}
}

// Fields sanitizes values of form fields or query parameters in place.
func (s *Sanitizer) Fields(values map[string][]string) []FieldChange {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	changes := []FieldChange{}

	for _, key := range keys {
		for i, before := range values[key] {
			if after := s.String(before); after != before {
				values[key][i] = after
				changes = append(changes, FieldChange{
					Path:   key,
					Before: before,
					After:  after,
				})
			}
		}
	}

	return changes
}

// JSON sanitizes every string of a decoded JSON document. Keys, numbers,
// booleans and nulls are left untouched.
func (s *Sanitizer) JSON(document interface{}) (interface{}, []FieldChange) {
	changes := []FieldChange{}
	rv := s.walk("", document, &changes)

	return rv, changes
}

func (s *Sanitizer) walk(path string, value interface{}, changes *[]FieldChange) interface{} {
	switch typed := value.(type) {
	case string:
		after := s.String(typed)
		if after != typed {
			*changes = append(*changes, FieldChange{
				Path:   path,
				Before: typed,
				After:  after,
			})
		}

		return after
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			typed[key] = s.walk(joinPath(path, key), typed[key], changes)
		}

		return typed
	case []interface{}:
		for i, item := range typed {
			typed[i] = s.walk(joinPath(path, strconv.Itoa(i)), item, changes)
		}

		return typed
	}

	return value
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "." + key
}

// FieldName returns the last segment of a dotted path.
func FieldName(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		return path[idx+1:]
	}

	return path
}

// NewSanitizer returns a sanitizer with AllowedTags.
func NewSanitizer() *Sanitizer {
	allowed := make(map[string]bool, len(AllowedTags))

	for _, tag := range AllowedTags {
		allowed[tag] = true
	}

	policy := bluemonday.NewPolicy()
	policy.AllowElements(AllowedTags...)

	return &Sanitizer{
		allowed: allowed,
		policy:  policy,
	}
}
