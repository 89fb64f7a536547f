package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dropwatch/internal/config"
	"dropwatch/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration with one import and one failed location",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, err := os.Stat(target)
				switch {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Point the [[locations]] paths at your import and failed directories, then run `dropwatch config validate`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if flagValue = strings.TrimSpace(flagValue); flagValue != "" {
		return config.ExpandPath(flagValue)
	}
	return config.DefaultConfigPath()
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Parse the configuration and check each watched location",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file not found; showing defaults")
			}
			renderLocationChecks(out, cfg)
			fmt.Fprintf(out, "Monitoring mode: %s\n", cfg.Monitoring.Mode)
			if len(cfg.Monitoring.Extensions) > 0 {
				fmt.Fprintf(out, "Tracked extensions: %s\n", strings.Join(cfg.Monitoring.Extensions, " "))
			}
			fmt.Fprintf(out, "Processing timeout: %s\n", ruleLabel(cfg.Cleanup.ProcessingTimeout))
			fmt.Fprintf(out, "Status retention: %s\n", ruleLabel(cfg.Cleanup.StatusRetention))
			fmt.Fprintf(out, "Failed file retention: %s\n", ruleLabel(cfg.Cleanup.FileRetention))
			fmt.Fprintf(out, "Notifications configured: %s\n", yesNo(cfg.Notifications.NtfyTopic != ""))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// renderLocationChecks lists the locations with a reachability column. An
// unreachable location is reported, not treated as a config error, because
// network shares may be mounted after the daemon starts.
func renderLocationChecks(out io.Writer, cfg *config.Config) {
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(cfg.Locations))
	for _, loc := range cfg.Locations {
		check := preflight.CheckDirectoryReadable(loc.Name, loc.Path)
		if loc.Role == config.RoleFailed {
			check = preflight.CheckDirectoryAccess(loc.Name, loc.Path)
		}
		reach, color := "ok", ansiGreen
		if !check.Passed {
			reach, color = check.Detail, ansiYellow
		}
		if colorize {
			reach = color + reach + ansiReset
		}
		rows = append(rows, []string{loc.Name, loc.Role, loc.Type, loc.Path, reach})
	}
	fmt.Fprint(out, renderTable([]column{
		{header: "Name"},
		{header: "Role"},
		{header: "Type"},
		{header: "Path", maxWidth: 60},
		{header: "Reachable", maxWidth: 40},
	}, rows))
}

func ruleLabel(rule config.Rule) string {
	if !rule.Enabled {
		return "off"
	}
	return fmt.Sprintf("%d %s", rule.Value, rule.Unit)
}
