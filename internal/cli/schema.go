// Package cli provides shared CLI utilities for logseer and logseerd.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// flagDoc describes one flag in the machine-readable help output.
type flagDoc struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Default   string `json:"default,omitempty"`
	Usage     string `json:"usage,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// commandDoc describes a command subtree in the machine-readable help output.
type commandDoc struct {
	Name     string       `json:"name"`
	Use      string       `json:"use,omitempty"`
	Short    string       `json:"short,omitempty"`
	Long     string       `json:"long,omitempty"`
	Flags    []flagDoc    `json:"flags,omitempty"`
	Commands []commandDoc `json:"commands,omitempty"`
}

// AddHelpJSONFlag registers --help-json, which dumps the command tree as
// JSON for completion and doc tooling.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// CheckHelpJSON scans os.Args for --help-json and, when present, prints the
// schema of the addressed subcommand and exits. It runs before Execute so
// the dump works even when required args are missing.
func CheckHelpJSON(root *cobra.Command) {
	for i, arg := range os.Args {
		if arg != "--"+helpJSONFlag {
			continue
		}
		doc := describeCommand(resolveCommand(root, os.Args[1:i]))
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "help-json: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		os.Exit(0)
	}
}

// resolveCommand walks args down the command tree as far as names match.
func resolveCommand(cmd *cobra.Command, args []string) *cobra.Command {
	for _, arg := range args {
		next := cmd
		for _, sub := range cmd.Commands() {
			if sub.Name() == arg || sub.HasAlias(arg) {
				next = sub
				break
			}
		}
		if next == cmd {
			break
		}
		cmd = next
	}
	return cmd
}

func describeCommand(cmd *cobra.Command) commandDoc {
	doc := commandDoc{
		Name:  cmd.Name(),
		Use:   cmd.Use,
		Short: cmd.Short,
		Long:  cmd.Long,
	}

	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" || f.Name == helpJSONFlag {
			return
		}
		doc.Flags = append(doc.Flags, flagDoc{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Default:   f.DefValue,
			Usage:     f.Usage,
			Required:  len(f.Annotations[cobra.BashCompOneRequiredFlag]) > 0,
		})
	})

	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" {
			continue
		}
		doc.Commands = append(doc.Commands, describeCommand(sub))
	}
	return doc
}
