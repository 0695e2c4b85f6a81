package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/strix/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and print the effective config",
	Long: `
Load the configuration file, apply defaults and validation, and print the
resulting effective configuration as YAML.

Examples:
  strix validate -c strix.yml
`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(map[string]*config.Config{"strix": cfg})
	if err != nil {
		return fmt.Errorf("failed to render effective config: %w", err)
	}

	fmt.Printf("%s is valid\n\n%s", configFile, out)
	return nil
}
