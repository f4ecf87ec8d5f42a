package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/disgoorg/repbot/internal/domain/backup"
	"github.com/disgoorg/repbot/repbot"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every all-time score to the backup page",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			res, err := app.Backup.Export(ctx, app.Settings())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d scores\n", res.Records)
			if res.Archive != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", res.Archive)
			}
			return nil
		})
	},
}

var (
	restorePolicy  string
	restoreFile    string
	restorePreview bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Merge a backup into the all-time scores",
	Long: "Merge a backup into the all-time scores. Without --file the stored " +
		"backup page is used; --file - reads the payload from stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := backup.ParsePolicy(restorePolicy)
		if err != nil {
			return err
		}
		payload, err := readPayload(cmd.InOrStdin(), restoreFile)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			var res backup.RestoreResult
			if restorePreview {
				res, err = app.Backup.Preview(ctx, app.Settings(), payload, policy)
			} else {
				res, err = app.Backup.Restore(ctx, app.Settings(), payload, policy)
			}
			if err != nil {
				return err
			}
			writePlan(cmd.OutOrStdout(), res, restorePreview)
			return nil
		})
	},
}

// readPayload returns the backup text at path, stdin for "-", or "" for no path.
func readPayload(stdin io.Reader, path string) (string, error) {
	var raw []byte
	var err error
	switch path {
	case "":
		return "", nil
	case "-":
		raw, err = io.ReadAll(stdin)
	default:
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read backup: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func writePlan(w io.Writer, res backup.RestoreResult, preview bool) {
	verb := "restored"
	if preview {
		verb = "would restore"
	}
	fmt.Fprintf(w, "%s %d scores, skipped %d\n", verb, res.Imported, res.Skipped)
	if !preview {
		return
	}
	backup.SortChanges(res.Changes)
	for _, c := range res.Changes {
		if c.HasScore {
			fmt.Fprintf(w, "  %s\t%d -> %d\n", c.Username, c.Existing, c.Imported)
		} else {
			fmt.Fprintf(w, "  %s\tnew -> %d\n", c.Username, c.Imported)
		}
	}
}

func init() {
	restoreCmd.Flags().StringVarP(&restorePolicy, "policy", "p", string(backup.Overwrite), "overwrite or skip")
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "backup file to restore, - for stdin")
	restoreCmd.Flags().BoolVar(&restorePreview, "preview", false, "print the plan without writing")

	rootCmd.AddCommand(exportCmd, restoreCmd)
}
