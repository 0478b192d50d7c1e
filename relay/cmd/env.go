package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// setFlagsFromConfigFile applies a YAML file whose keys are flag names. Flags set on the command line or through the
// environment keep their value.
func setFlagsFromConfigFile(flags *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for name, v := range values {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown config key %q in %s", name, path)
		}
		if f.Changed {
			continue
		}
		if err := flags.Set(name, configValueToString(v)); err != nil {
			return fmt.Errorf("invalid value for %q in %s: %w", name, path, err)
		}
	}
	return nil
}

func configValueToString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case []any:
		items := make([]string, 0, len(value))
		for _, item := range value {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, ",")
	default:
		return fmt.Sprint(value)
	}
}
