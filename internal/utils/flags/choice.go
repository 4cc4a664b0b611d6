package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

const (
	choicePlaceholderPrefix     = "<"
	choicePlaceholderSuffix     = ">"
	choiceSeparatorLiteral      = "|"
	choiceListSeparatorLiteral  = ","
	choiceUsageEmptyTemplate    = "`%s`"
	choiceUsageFullTemplate     = "`%s` %s"
	choiceListTypeName          = "choices"
	unsupportedChoiceTemplate   = "unsupported value %q, expected one of: %s"
	choiceListDisplayJoinString = ", "
)

// FormatChoiceUsage builds a usage string where the default option is capitalized inside a placeholder.
func FormatChoiceUsage(defaultChoice string, choices []string, description string) string {
	placeholder := choicePlaceholderPrefix + strings.Join(highlightDefaultChoice(defaultChoice, choices), choiceSeparatorLiteral) + choicePlaceholderSuffix
	if len(strings.TrimSpace(description)) == 0 {
		return fmt.Sprintf(choiceUsageEmptyTemplate, placeholder)
	}
	return fmt.Sprintf(choiceUsageFullTemplate, placeholder, description)
}

func highlightDefaultChoice(defaultChoice string, choices []string) []string {
	normalizedDefault := strings.ToLower(strings.TrimSpace(defaultChoice))
	highlighted := make([]string, 0, len(choices))
	seen := make(map[string]struct{}, len(choices))

	for _, choice := range choices {
		trimmedChoice := strings.TrimSpace(choice)
		if len(trimmedChoice) == 0 {
			continue
		}

		normalizedChoice := strings.ToLower(trimmedChoice)
		if _, exists := seen[normalizedChoice]; exists {
			continue
		}

		displayValue := trimmedChoice
		if normalizedChoice == normalizedDefault && len(normalizedChoice) > 0 {
			displayValue = strings.ToUpper(trimmedChoice)
		}

		highlighted = append(highlighted, displayValue)
		seen[normalizedChoice] = struct{}{}
	}

	return highlighted
}

// ChoiceListValue is a repeatable pflag value restricted to a fixed set of choices.
// Values may be given as repeated flags or comma separated; duplicates collapse.
type ChoiceListValue struct {
	allowed  []string
	selected []string
	changed  bool
}

var _ pflag.SliceValue = (*ChoiceListValue)(nil)

// NewChoiceListValue constructs a ChoiceListValue accepting the provided choices.
func NewChoiceListValue(allowed []string, defaults []string) *ChoiceListValue {
	value := &ChoiceListValue{allowed: append([]string(nil), allowed...)}
	for _, defaultChoice := range defaults {
		_ = value.add(defaultChoice)
	}
	return value
}

// AddChoiceListFlag registers a ChoiceListValue on the flag set and returns it.
func AddChoiceListFlag(flagSet *pflag.FlagSet, name string, allowed []string, defaults []string, description string) *ChoiceListValue {
	value := NewChoiceListValue(allowed, defaults)
	if flagSet != nil {
		flagSet.Var(value, name, FormatChoiceUsage(strings.Join(defaults, choiceListSeparatorLiteral), allowed, description))
	}
	return value
}

// String renders the selected choices.
func (value *ChoiceListValue) String() string {
	if value == nil {
		return ""
	}
	return strings.Join(value.selected, choiceListSeparatorLiteral)
}

// Set parses a flag occurrence. The first explicit occurrence replaces the defaults.
func (value *ChoiceListValue) Set(rawValue string) error {
	if !value.changed {
		value.selected = nil
		value.changed = true
	}
	for _, candidate := range strings.Split(rawValue, choiceListSeparatorLiteral) {
		if addError := value.add(candidate); addError != nil {
			return addError
		}
	}
	return nil
}

// Type names the flag value type for help output.
func (value *ChoiceListValue) Type() string {
	return choiceListTypeName
}

// Append adds one choice.
func (value *ChoiceListValue) Append(rawValue string) error {
	return value.add(rawValue)
}

// Replace swaps the selection for the provided choices.
func (value *ChoiceListValue) Replace(rawValues []string) error {
	value.selected = nil
	for _, rawValue := range rawValues {
		if addError := value.add(rawValue); addError != nil {
			return addError
		}
	}
	return nil
}

// GetSlice returns a copy of the selected choices.
func (value *ChoiceListValue) GetSlice() []string {
	return append([]string(nil), value.selected...)
}

// Selected returns the selected choices in selection order.
func (value *ChoiceListValue) Selected() []string {
	if value == nil {
		return nil
	}
	return value.GetSlice()
}

func (value *ChoiceListValue) add(rawValue string) error {
	normalizedValue := strings.ToLower(strings.TrimSpace(rawValue))
	if len(normalizedValue) == 0 {
		return nil
	}

	allowedMatch := false
	for _, allowedChoice := range value.allowed {
		if allowedChoice == normalizedValue {
			allowedMatch = true
			break
		}
	}
	if !allowedMatch {
		return fmt.Errorf(unsupportedChoiceTemplate, rawValue, strings.Join(value.allowed, choiceListDisplayJoinString))
	}

	for _, selectedChoice := range value.selected {
		if selectedChoice == normalizedValue {
			return nil
		}
	}
	value.selected = append(value.selected, normalizedValue)
	return nil
}

// SelectedChoices returns the choices of a ChoiceListValue flag and whether the flag was set explicitly.
func SelectedChoices(flagSet *pflag.FlagSet, name string) ([]string, bool) {
	if flagSet == nil {
		return nil, false
	}
	flag := flagSet.Lookup(name)
	if flag == nil {
		return nil, false
	}
	choiceValue, isChoiceList := flag.Value.(*ChoiceListValue)
	if !isChoiceList {
		return nil, false
	}
	return choiceValue.Selected(), flag.Changed
}
