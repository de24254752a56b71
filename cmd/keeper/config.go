package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, check and edit the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(zap.NewNop())
		if err != nil {
			return err
		}
		return writeJSON(cmd, c.All())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(zap.NewNop())
		if err != nil {
			return err
		}
		v := c.Validate()
		out := cmd.OutOrStdout()
		for _, w := range v.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		for _, e := range v.Errors {
			fmt.Fprintf(out, "error:   %s\n", e)
		}
		if !v.Valid() {
			return fmt.Errorf("configuration has %d errors", len(v.Errors))
		}
		fmt.Fprintln(out, "Configuration is valid.")
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [KEY]",
	Short: "Print one value by dotted key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(zap.NewNop())
		if err != nil {
			return err
		}
		v, ok := c.Get(args[0])
		if !ok {
			return fmt.Errorf("%s is not set", args[0])
		}
		return writeJSON(cmd, v)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [KEY] [VALUE]",
	Short: "Set one value by dotted key and save the config file",
	Long: `Set one value by dotted key and save the config file.

VALUE is stored as JSON when it parses as JSON (numbers, booleans, lists),
otherwise as a string.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(zap.NewNop())
		if err != nil {
			return err
		}
		if err := c.Set(args[0], parseValue(args[1])); err != nil {
			return err
		}
		if err := c.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", args[0], c.Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd, configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err == nil {
		return v
	}
	return s
}
