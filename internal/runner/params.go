package runner

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

// ParamError reports one caller-supplied option that failed validation.
type ParamError struct {
	Option string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid value for option %q: %s", e.Option, e.Reason)
}

// ValidateParams checks raw values against the plugin's declared options and
// fills declared defaults. Unknown options are rejected; the returned map is
// what reaches the executor.
func (s *Service) ValidateParams(def *plugin.PluginDefinition, raw map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(def.Command.Options))

	for name := range raw {
		if _, ok := def.Command.Option(name); !ok {
			return nil, &ParamError{Option: name, Reason: "option is not declared"}
		}
	}

	for _, opt := range def.Command.Options {
		value, supplied := raw[opt.Name]
		if !supplied || value == "" {
			if opt.Default != "" {
				params[opt.Name] = opt.Default
				continue
			}
			if opt.Required {
				return nil, &ParamError{Option: opt.Name, Reason: "required option is missing"}
			}
			continue
		}
		if err := validateValue(&opt, value); err != nil {
			return nil, err
		}
		params[opt.Name] = value
	}
	return params, nil
}

func validateValue(opt *plugin.CommandOption, value string) error {
	switch opt.Type {
	case plugin.OptionInteger:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return &ParamError{Option: opt.Name, Reason: "must be an integer"}
		}
	case plugin.OptionNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &ParamError{Option: opt.Name, Reason: "must be a number"}
		}
	case plugin.OptionBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return &ParamError{Option: opt.Name, Reason: "must be a boolean"}
		}
	}

	if len(opt.Choices) > 0 {
		found := false
		for _, c := range opt.Choices {
			if c == value {
				found = true
				break
			}
		}
		if !found {
			return &ParamError{Option: opt.Name, Reason: "not one of the declared choices"}
		}
	}

	if v := opt.Validation; v != nil {
		if v.MinLength > 0 && len(value) < v.MinLength {
			return &ParamError{Option: opt.Name, Reason: fmt.Sprintf("shorter than %d characters", v.MinLength)}
		}
		if v.MaxLength > 0 && len(value) > v.MaxLength {
			return &ParamError{Option: opt.Name, Reason: fmt.Sprintf("longer than %d characters", v.MaxLength)}
		}
		if v.Pattern != "" {
			// The resolver guarantees the pattern compiles.
			if !regexp.MustCompile(v.Pattern).MatchString(value) {
				return &ParamError{Option: opt.Name, Reason: "does not match the declared pattern"}
			}
		}
		if v.MinValue != nil || v.MaxValue != nil {
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return &ParamError{Option: opt.Name, Reason: "must be numeric"}
			}
			if v.MinValue != nil && n < *v.MinValue {
				return &ParamError{Option: opt.Name, Reason: fmt.Sprintf("below minimum %v", *v.MinValue)}
			}
			if v.MaxValue != nil && n > *v.MaxValue {
				return &ParamError{Option: opt.Name, Reason: fmt.Sprintf("above maximum %v", *v.MaxValue)}
			}
		}
	}
	return nil
}
