package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of values. Its
// Type is "string" so it reads back with GetString.
type enumValue struct {
	value   string
	allowed []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnum(def string, allowed ...string) *enumValue {
	return &enumValue{value: def, allowed: allowed}
}

func (e *enumValue) String() string { return e.value }

func (e *enumValue) Set(s string) error {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, a := range e.allowed {
		if v == a {
			e.value = v
			return nil
		}
	}
	return fmt.Errorf("invalid value %q (expected %s)", s, strings.Join(e.allowed, "|"))
}

func (e *enumValue) Type() string { return "string" }

// The helpers below return the flag value when it was set on the command
// line and fallback (usually from x2trace.toml) otherwise.

func stringSetting(flags *pflag.FlagSet, name, fallback string) (string, error) {
	if !flags.Changed(name) {
		return fallback, nil
	}
	v, err := flags.GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}

func boolSetting(flags *pflag.FlagSet, name string, fallback bool) (bool, error) {
	if !flags.Changed(name) {
		return fallback, nil
	}
	v, err := flags.GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}

func intSetting(flags *pflag.FlagSet, name string, fallback int) (int, error) {
	if !flags.Changed(name) {
		return fallback, nil
	}
	v, err := flags.GetInt(name)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}

// rootString reads a persistent string flag of the root command.
func rootString(cmd *cobra.Command, name string) (string, error) {
	v, err := cmd.Root().PersistentFlags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}

func rootBool(cmd *cobra.Command, name string) (bool, error) {
	v, err := cmd.Root().PersistentFlags().GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}
