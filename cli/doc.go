package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alimasry/docupdater/document"
	"github.com/alimasry/docupdater/model"
)

// readLines reads a doc from path, or stdin when path is "-". A single
// trailing newline does not start a new line.
func readLines(cmd *cobra.Command, path string) ([]string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n"), nil
}

// lockedDocCommand builds a command taking <project-id> <doc-id> plus
// extraArgs more, running fn under the doc lock. A negative extraArgs
// requires at least that many more.
func lockedDocCommand(opts *RootOptions, use, short string, extraArgs int, fn func(ctx context.Context, a *app, cmd *cobra.Command, projectID, docID string, args []string) error) *cobra.Command {
	positional := cobra.ExactArgs(2 + extraArgs)
	if extraArgs < 0 {
		positional = cobra.MinimumNArgs(2 - extraArgs)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  positional,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, docID := args[0], args[1]
			return opts.withApp(cmd.Context(), func(a *app) error {
				return a.manager.WithLock(cmd.Context(), projectID, docID, func(ctx context.Context) error {
					return fn(ctx, a, cmd, projectID, docID, args[2:])
				})
			})
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var pathname string
	cmd := &cobra.Command{
		Use:   "create <project-id> <doc-id> <file>",
		Short: "Create a doc in the durable store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(cmd, args[2])
			if err != nil {
				return err
			}
			if pathname == "" {
				pathname = "/" + args[1]
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				return a.persistence.CreateDoc(cmd.Context(), args[0], args[1], &model.Document{
					Lines:    lines,
					Pathname: pathname,
				})
			})
		},
	}
	cmd.Flags().StringVar(&pathname, "pathname", "", "path of the doc in its project (default /<doc-id>)")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List the docs of a project in the durable store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				ids, err := a.persistence.ListDocs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	var fromVersion int
	cmd := lockedDocCommand(opts, "get <project-id> <doc-id>", "Print a doc, loading it into the cache", 0,
		func(ctx context.Context, a *app, cmd *cobra.Command, projectID, docID string, _ []string) error {
			res, err := a.manager.GetDocAndRecentOps(ctx, projectID, docID, fromVersion)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), docView(res))
		})
	cmd.Flags().IntVar(&fromVersion, "from-version", -1, "also print the ops applied since this version")
	return cmd
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(opts *RootOptions) *cobra.Command {
	return lockedDocCommand(opts, "flush <project-id> <doc-id>", "Write a cached doc to the durable store", 0,
		func(ctx context.Context, a *app, _ *cobra.Command, projectID, docID string, _ []string) error {
			return a.manager.FlushDocIfLoaded(ctx, projectID, docID)
		})
}

// NewEvictCommand creates the evict command.
func NewEvictCommand(opts *RootOptions) *cobra.Command {
	var ignoreFlushErrors bool
	cmd := lockedDocCommand(opts, "evict <project-id> <doc-id>", "Flush a doc and remove it from the cache", 0,
		func(ctx context.Context, a *app, _ *cobra.Command, projectID, docID string, _ []string) error {
			return a.manager.FlushAndDeleteDoc(ctx, projectID, docID,
				document.FlushAndDeleteOptions{IgnoreFlushErrors: ignoreFlushErrors})
		})
	cmd.Flags().BoolVar(&ignoreFlushErrors, "ignore-flush-errors", false, "evict even if the flush fails, losing unflushed edits")
	return cmd
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(opts *RootOptions) *cobra.Command {
	var pathname string
	cmd := lockedDocCommand(opts, "resync <project-id> <doc-id>", "Send project history a full snapshot of a doc", 0,
		func(ctx context.Context, a *app, _ *cobra.Command, projectID, docID string, _ []string) error {
			return a.manager.ResyncDocContents(ctx, projectID, docID, pathname)
		})
	cmd.Flags().StringVar(&pathname, "pathname", "", "pathname to record instead of the doc's own")
	return cmd
}

type writeFlags struct {
	source string
	userID string
}

func (w *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.source, "source", "cli", "source recorded on the update")
	cmd.Flags().StringVar(&w.userID, "user", "", "user recorded on the update")
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	var (
		flags writeFlags
		undo  bool
	)
	cmd := lockedDocCommand(opts, "set <project-id> <doc-id> <file>", "Replace the content of a doc", 1,
		func(ctx context.Context, a *app, cmd *cobra.Command, projectID, docID string, args []string) error {
			lines, err := readLines(cmd, args[0])
			if err != nil {
				return err
			}
			return a.manager.SetDoc(ctx, projectID, docID, document.SetDocRequest{
				Lines:    lines,
				Source:   flags.source,
				UserID:   flags.userID,
				Undoing:  undo,
				External: true,
			})
		})
	flags.register(cmd)
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the change as an undo")
	return cmd
}

// NewAppendCommand creates the append command.
func NewAppendCommand(opts *RootOptions) *cobra.Command {
	var flags writeFlags
	cmd := lockedDocCommand(opts, "append <project-id> <doc-id> <file>", "Append lines to a doc", 1,
		func(ctx context.Context, a *app, cmd *cobra.Command, projectID, docID string, args []string) error {
			lines, err := readLines(cmd, args[0])
			if err != nil {
				return err
			}
			return a.manager.AppendToDoc(ctx, projectID, docID, lines, flags.source, flags.userID)
		})
	flags.register(cmd)
	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(opts *RootOptions) *cobra.Command {
	return lockedDocCommand(opts, "accept <project-id> <doc-id> <change-id>...", "Accept tracked changes", -1,
		func(ctx context.Context, a *app, _ *cobra.Command, projectID, docID string, changeIDs []string) error {
			return a.manager.AcceptChanges(ctx, projectID, docID, changeIDs)
		})
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(opts *RootOptions) *cobra.Command {
	var userID string
	cmd := lockedDocCommand(opts, "reject <project-id> <doc-id> <change-id>...", "Revert tracked changes", -1,
		func(ctx context.Context, a *app, cmd *cobra.Command, projectID, docID string, changeIDs []string) error {
			version, err := a.manager.RejectChanges(ctx, projectID, docID, changeIDs, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "doc %s at version %d\n", docID, version)
			return nil
		})
	cmd.Flags().StringVar(&userID, "user", "", "user recorded on the undo")
	return cmd
}
