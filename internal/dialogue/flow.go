package dialogue

import (
	"fmt"
	"strings"

	"github.com/lojasmm/shipbot/internal/session"
)

// Choice is a selectable answer offered alongside a prompt. ID is what the
// transport feeds back when the user taps it.
type Choice struct {
	ID    string
	Title string
}

// Field is one question of the flow. A nil Normalize stores the text as
// given.
type Field struct {
	Key       string
	Prompt    string
	Choices   []Choice
	Normalize func(text string) (string, error)
}

func (f Field) normalize(text string) (string, error) {
	if f.Normalize == nil {
		return text, nil
	}
	return f.Normalize(text)
}

// Flow is an ordered, immutable list of fields plus the words that restart
// it.
type Flow struct {
	Greeting string

	fields      []Field
	index       map[string]int
	resetTokens map[string]struct{}
}

func NewFlow(greeting string, resetTokens []string, fields ...Field) (*Flow, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("dialogue: flow has no fields")
	}

	f := &Flow{
		Greeting:    greeting,
		fields:      append([]Field(nil), fields...),
		index:       make(map[string]int, len(fields)),
		resetTokens: make(map[string]struct{}, len(resetTokens)),
	}
	for i, field := range fields {
		if field.Key == "" || field.Key == session.StepDone {
			return nil, fmt.Errorf("dialogue: invalid field key %q", field.Key)
		}
		if _, dup := f.index[field.Key]; dup {
			return nil, fmt.Errorf("dialogue: duplicate field key %q", field.Key)
		}
		f.index[field.Key] = i
	}
	for _, tok := range resetTokens {
		f.resetTokens[strings.TrimSpace(tok)] = struct{}{}
	}
	return f, nil
}

// Keys returns the field keys in order.
func (f *Flow) Keys() []string {
	keys := make([]string, len(f.fields))
	for i, field := range f.fields {
		keys[i] = field.Key
	}
	return keys
}

func (f *Flow) Len() int { return len(f.fields) }

func (f *Flow) First() Field { return f.fields[0] }

func (f *Flow) Field(key string) (Field, bool) {
	i, ok := f.index[key]
	if !ok {
		return Field{}, false
	}
	return f.fields[i], true
}

// Next returns the field after key.
func (f *Flow) Next(key string) (Field, bool) {
	i, ok := f.index[key]
	if !ok || i+1 >= len(f.fields) {
		return Field{}, false
	}
	return f.fields[i+1], true
}

func (f *Flow) IsLast(key string) bool {
	i, ok := f.index[key]
	return ok && i == len(f.fields)-1
}

// IsReset matches text against the reset tokens exactly, ignoring
// surrounding whitespace.
func (f *Flow) IsReset(text string) bool {
	_, ok := f.resetTokens[strings.TrimSpace(text)]
	return ok
}
