package dialogue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/lojasmm/shipbot/internal/quote"
)

const (
	FieldKind          = "kind"
	FieldSize          = "size"
	FieldWeight        = "weight"
	FieldOrigin        = "origin"
	FieldDestination   = "destination"
	FieldExpedited     = "expedited"
	FieldDispatchToday = "dispatch_today"
	FieldAddon         = "addon"
)

const (
	answerYes = "yes"
	answerNo  = "no"
)

// ResetTokens restart the questionnaire from any step.
var ResetTokens = []string{"reset", "start over", "redo", "リセット", "最初から"}

const greeting = "Hi! I'm your shipping concierge. Answer a few quick questions and I'll suggest the cheapest and the fastest way to send your item. Send \"reset\" at any time to start over."

var yesNoChoices = []Choice{
	{ID: answerYes, Title: "Yes"},
	{ID: answerNo, Title: "No"},
}

// DefaultFlow builds the shipping questionnaire for table.
func DefaultFlow(table *quote.Table) *Flow {
	flow, err := NewFlow(greeting, ResetTokens,
		Field{
			Key:     FieldKind,
			Prompt:  "What are you sending?\n" + numbered(table.KindCodes(), table.KindLabel),
			Choices: choices(table.KindCodes(), table.KindLabel),
		},
		Field{
			Key:       FieldSize,
			Prompt:    "What is the sum of its three sides, in cm?",
			Normalize: SizeNormalizer(table.MaxSize()),
		},
		Field{
			Key:    FieldWeight,
			Prompt: "How much does it weigh?",
		},
		Field{
			Key:    FieldOrigin,
			Prompt: "Which prefecture or region are you sending it from?",
		},
		Field{
			Key:    FieldDestination,
			Prompt: "Which prefecture or region is it going to?",
		},
		Field{
			Key:       FieldExpedited,
			Prompt:    "Do you want express delivery?",
			Choices:   yesNoChoices,
			Normalize: YesNo,
		},
		Field{
			Key:       FieldDispatchToday,
			Prompt:    "Will you post it or hand it in at the counter today?",
			Choices:   yesNoChoices,
			Normalize: YesNo,
		},
		Field{
			Key:     FieldAddon,
			Prompt:  "Any add-on service?\n" + numbered(table.AddonCodes(), addonLabel(table)),
			Choices: choices(table.AddonCodes(), addonLabel(table)),
		},
	)
	if err != nil {
		panic(err)
	}
	return flow
}

// SizeNormalizer parses the sum of three sides in cm. Sizes above limit end
// the conversation.
func SizeNormalizer(limit int) func(string) (string, error) {
	return func(text string) (string, error) {
		s := strings.ToLower(strings.TrimSpace(width.Fold.String(text)))
		s = strings.TrimSpace(strings.TrimSuffix(s, "cm"))

		n, err := strconv.Atoi(s)
		if errors.Is(err, strconv.ErrRange) && n > 0 {
			err = nil
		}
		if err != nil || n <= 0 {
			return "", &InputError{
				Notice: "Please send the size as a whole number of centimetres, for example 60.",
				Err:    fmt.Errorf("size %q is not a positive integer", text),
			}
		}
		if n > limit {
			oor := &quote.OutOfRangeError{Size: n, Max: limit}
			return "", &InputError{Notice: oor.UserMessage(), Fatal: true, Err: oor}
		}
		return strconv.Itoa(n), nil
	}
}

// YesNo maps affirmative replies to "yes" and everything else to "no".
func YesNo(text string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(width.Fold.String(text))) {
	case "yes", "y", "はい":
		return answerYes, nil
	default:
		return answerNo, nil
	}
}

func addonLabel(table *quote.Table) func(string) string {
	return func(code string) string { return table.Addon(code).Label }
}

func numbered(codes []string, label func(string) string) string {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = code + ") " + label(code)
	}
	return strings.Join(parts, " ")
}

func choices(codes []string, label func(string) string) []Choice {
	out := make([]Choice, len(codes))
	for i, code := range codes {
		out[i] = Choice{ID: code, Title: capitalize(label(code))}
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
