// Package cmd provides command-line interface commands for Bastion.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bastion/detect"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for signatures commands
var (
	outputJSON    bool
	signatureFile string
	noColor       bool
)

// NewSignaturesCmd creates the root signatures command with all subcommands.
// It lets operators inspect and validate a signature table without starting
// the server.
func NewSignaturesCmd() *cobra.Command {
	signaturesCmd := &cobra.Command{
		Use:   "signatures",
		Short: "Inspect and validate signature tables",
		Long: `Inspect and validate the signature table used for payload matching.

Without --file the built-in signature table is used. With --file the given
YAML table is loaded instead, the same way the server loads it at startup.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	signaturesCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	signaturesCmd.PersistentFlags().StringVar(&signatureFile, "file", "", "Signature table YAML file (default: built-in table)")
	signaturesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	signaturesCmd.AddCommand(newListCmd())
	signaturesCmd.AddCommand(newValidateCmd())
	signaturesCmd.AddCommand(newTestCmd())

	return signaturesCmd
}

// loadRules resolves the rule source from the --file flag.
func loadRules() ([]detect.SignatureRule, error) {
	if signatureFile == "" {
		return detect.DefaultSignatureRules(), nil
	}
	return detect.LoadSignatureRules(signatureFile)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List signature rules",
		Long:    "Display all rules of the signature table in evaluation order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules()
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(rules)
			}

			headerColor.Printf("%-4s %-32s %-16s %s\n", "#", "NAME", "CATEGORY", "PATTERN")
			for i, rule := range rules {
				fmt.Printf("%-4d %-32s %-16s %s\n", i+1, rule.Name, rule.Category, rule.Pattern)
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a signature table",
		Long:  "Compile every rule of the signature table and report the first failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules()
			if err != nil {
				errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
				return err
			}

			if _, err := detect.NewSignatureSet(rules, zap.NewNop().Sugar()); err != nil {
				errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
				return err
			}

			if outputJSON {
				return outputAsJSON(map[string]any{"valid": true, "rules": len(rules)})
			}
			successColor.Printf("✓ %d rules compiled successfully\n", len(rules))
			return nil
		},
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <payload>",
		Short: "Match a payload against the signature table",
		Long:  "Run one payload through the signature table and show which rules match.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules()
			if err != nil {
				return err
			}
			set, err := detect.NewSignatureSet(rules, zap.NewNop().Sugar())
			if err != nil {
				return err
			}

			matches := set.Match(args[0])
			if outputJSON {
				return outputAsJSON(matches)
			}
			if len(matches) == 0 {
				fmt.Println("no match")
				return nil
			}
			for _, m := range matches {
				successColor.Printf("✓ %s (%s)\n", m.Rule, m.Category)
			}
			return nil
		},
	}
}

// outputAsJSON writes any value as indented JSON to stdout.
func outputAsJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
