package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/config"
)

//go:embed templates/linkgraph.yaml
var configTemplate []byte

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// xdgConfigFile is the file name looked up in the XDG config directory.
const xdgConfigFile = "config.yaml"

var errInitDestination = errors.New("--output and --xdg cannot be used together")

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a linkgraph configuration file",
		Long: `Init writes a commented configuration file for per-site crawl settings:
cookies and headers for sites behind a login, and depth or page quota
overrides for large sites.

The crawl command looks for the file in this order:
  1. the path given with --config
  2. .linkgraph in the current directory
  3. .linkgraph in the home directory
  4. config.yaml in the XDG config directory

Examples:
  # Create .linkgraph in the current directory
  linkgraph init

  # Create the user-wide file in the XDG config directory
  linkgraph init --xdg

  # Print the template instead of writing it
  linkgraph init --stdout`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName, "Output file path for the configuration")
	cmd.Flags().Bool("xdg", false, "Write to the XDG config directory")
	cmd.Flags().Bool("stdout", false, "Print the template to stdout")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	toStdout, err := flags.GetBool("stdout")
	if err != nil {
		return err
	}
	if toStdout {
		_, err := cmd.OutOrStdout().Write(configTemplate)
		return err
	}

	output, err := flags.GetString("output")
	if err != nil {
		return err
	}
	useXDG, err := flags.GetBool("xdg")
	if err != nil {
		return err
	}
	force, err := flags.GetBool("force")
	if err != nil {
		return err
	}

	path, err := initDestination(output, flags.Changed("output"), useXDG)
	if err != nil {
		return err
	}
	if err := writeConfigTemplate(path, force); err != nil {
		return err
	}
	printInitHelp(cmd.OutOrStdout(), path)
	return nil
}

// initDestination picks the file init writes.
func initDestination(output string, outputSet, useXDG bool) (string, error) {
	if !useXDG {
		return output, nil
	}
	if outputSet {
		return "", errInitDestination
	}
	return filepath.Join(config.XDGConfigDir(), xdgConfigFile), nil
}

// writeConfigTemplate writes the template to path with owner-only
// permissions, since cookies end up in it.
func writeConfigTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, configTemplate, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

func printInitHelp(w io.Writer, path string) {
	fmt.Fprintf(w, "Created configuration file: %s\n\n", path)
	fmt.Fprintln(w, "Add an entry under \"sites\" for each host that needs a cookie,")
	fmt.Fprintln(w, "extra headers, or its own depth and page quota.")
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if found := config.FindConfigFile(""); found != "" && found != abs {
		fmt.Fprintf(w, "\nNote: %s is found first and takes precedence.\n", found)
	}
}
