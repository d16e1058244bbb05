package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence in an expected document matches any actual value
const Presence = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports an ASCII diff
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert fails the test when actualJSON does not match expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
	}
}

// AssertValue marshals v and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns "" when the documents match under the configured options
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) && isArray(actual) {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPresence(expected, actual)
	}
	// ignored fields go before sorting, they would otherwise change the order
	for _, f := range ja.options.IgnoredFields {
		dropField(expected, f)
		dropField(actual, f)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walk calls fn on each pair of objects found at the same position in both trees
func walk(expected, actual any, fn func(exp, act map[string]any)) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		fn(exp, act)
		for k := range exp {
			walk(exp[k], act[k], fn)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walk(exp[i], act[i], fn)
			}
		}
	}
}

func fillPresence(expected, actual any) {
	walk(expected, actual, func(exp, act map[string]any) {
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence {
				if av, found := act[k]; found {
					exp[k] = av
				}
			}
		}
	})
}

func pruneExtraKeys(actual, expected any) {
	walk(expected, actual, func(exp, act map[string]any) {
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
			}
		}
	})
}

func dropField(doc any, field string) {
	switch v := doc.(type) {
	case map[string]any:
		delete(v, field)
		for _, child := range v {
			dropField(child, field)
		}
	case []any:
		for _, child := range v {
			dropField(child, field)
		}
	}
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

// sortArrays orders every array by the JSON text of its elements
func sortArrays(doc any) {
	switch v := doc.(type) {
	case map[string]any:
		for _, child := range v {
			sortArrays(child)
		}
	case []any:
		for _, child := range v {
			sortArrays(child)
		}
		sort.Slice(v, func(i, j int) bool {
			return MustJSON(v[i]) < MustJSON(v[j])
		})
	}
}

func WithIgnoreExtraKeys(v bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

func WithAllowPresencePlaceholder(v bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = v }
}

func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

func WithIgnoreArrayOrder(v bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = v }
}
