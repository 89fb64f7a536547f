package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dropwatch/internal/ipc"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := newFilesListCommand(ctx)
	filesCmd.Use = "files"
	filesCmd.Aliases = []string{"ls"}
	filesCmd.Short = "List tracked files newest first"
	filesCmd.AddCommand(newFilesShowCommand(ctx))
	filesCmd.AddCommand(newFilesClearCommand(ctx))
	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.FilesList(splitStatuses(statuses))
				if err != nil {
					return err
				}
				return emit(cmd, asJSON, resp, func(out io.Writer) error {
					renderFileTable(out, resp.Files)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show records with these statuses (processing, failed, published, timed-out)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the records as JSON")
	return cmd
}

func newFilesShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.FileDescribe(args[0])
				if err != nil {
					return err
				}
				return emit(cmd, asJSON, resp.File, func(out io.Writer) error {
					file := resp.File
					fmt.Fprintf(out, "Name:     %s\n", file.Name)
					fmt.Fprintf(out, "Status:   %s\n", colorizeStatus(file.Status, shouldColorize(out)))
					fmt.Fprintf(out, "Source:   %s\n", file.Source)
					fmt.Fprintf(out, "Created:  %s\n", relativeTime(file.CreatedAt))
					fmt.Fprintf(out, "Updated:  %s\n", relativeTime(file.UpdatedAt))
					if file.Remarks != "" {
						fmt.Fprintln(out, "Remarks:")
						for _, remark := range strings.Split(file.Remarks, "; ") {
							fmt.Fprintf(out, "  - %s\n", remark)
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}

func newFilesClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record (files on disk are untouched)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear every record without --yes")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Clear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s records\n", humanize.Comma(resp.Removed))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing every record")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <name>",
		Short: "Move a failed file back into the import location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Retry(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s back to import\n", resp.Target)
				return nil
			})
		},
	}
}

func newRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a failed file and move it back into the import location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Rename(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s back to import as %s\n", args[0], resp.Target)
				return nil
			})
		},
	}
}

func splitStatuses(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func renderFileTable(out io.Writer, files []ipc.TrackedFile) {
	if len(files) == 0 {
		fmt.Fprintln(out, "No tracked files")
		return
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(files))
	for _, file := range files {
		rows = append(rows, []string{
			file.Name,
			colorizeStatus(file.Status, colorize),
			file.Source,
			relativeTime(file.UpdatedAt),
			file.Remarks,
		})
	}
	fmt.Fprint(out, renderTable([]column{
		{header: "Name", maxWidth: 48},
		{header: "Status"},
		{header: "Source"},
		{header: "Updated"},
		{header: "Remarks", maxWidth: 60},
	}, rows))
	fmt.Fprintf(out, "%s records\n", humanize.Comma(int64(len(files))))
}
