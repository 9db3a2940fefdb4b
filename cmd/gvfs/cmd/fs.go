package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

func newLsCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var entries []types.FileStatus
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				entries, err = e.vfs.List(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, st := range entries {
				kind := "-"
				if st.IsDir {
					kind = "d"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, utils.FormatBytes(st.Size),
					st.ModTime.Format("2006-01-02 15:04"), st.Path)
			}
			return w.Flush()
		},
	}
}

func newCatCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file to standard output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var r io.ReadCloser
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				r, err = e.vfs.Open(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}

			_, err = io.Copy(cmd.OutOrStdout(), r)
			if cerr := r.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
}

func newPutCmd(current func() *env) *cobra.Command {
	var overwrite bool
	c := &cobra.Command{
		Use:   "put <local file|-> <path>",
		Short: "Upload a local file, or standard input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			return upload(cmd, e, args[0], func(ctx context.Context) (io.WriteCloser, error) {
				return e.vfs.Create(ctx, args[1], overwrite)
			})
		},
	}
	c.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "replace an existing file")
	return c
}

func newAppendCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "append <local file|-> <path>",
		Short: "Append a local file, or standard input, to an existing file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			return upload(cmd, e, args[0], func(ctx context.Context) (io.WriteCloser, error) {
				return e.vfs.Append(ctx, args[1])
			})
		},
	}
}

// upload copies src into the writer open returns. Only opening is retried;
// the source may not be rewindable.
func upload(cmd *cobra.Command, e *env, src string, open func(context.Context) (io.WriteCloser, error)) error {
	var in io.Reader = cmd.InOrStdin()
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var w io.WriteCloser
	err := e.do(cmd.Context(), func(ctx context.Context) error {
		var err error
		w, err = open(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func newStatCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Describe a file or directory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var st types.FileStatus
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				st, err = e.vfs.Stat(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newExistsCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <path>",
		Short: "Print whether a file, directory or fileset exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var ok bool
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				ok, err = e.vfs.Exists(ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

func newMkdirCmd(current func() *env) *cobra.Command {
	var parents bool
	c := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			return e.do(cmd.Context(), func(ctx context.Context) error {
				_, err := e.vfs.Mkdir(ctx, args[0], parents)
				return err
			})
		},
	}
	c.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent directories")
	return c
}

func newRmCmd(current func() *env) *cobra.Command {
	var recursive bool
	c := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var deleted bool
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				deleted, err = e.vfs.Delete(ctx, args[0], recursive)
				return err
			})
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: nothing to delete\n", args[0])
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete directories and their contents")
	return c
}

func newMvCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename a file or directory within a fileset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			var renamed bool
			err := e.do(cmd.Context(), func(ctx context.Context) error {
				var err error
				renamed, err = e.vfs.Rename(ctx, args[0], args[1])
				return err
			})
			if err != nil {
				return err
			}
			if !renamed {
				return fmt.Errorf("mv %s %s: destination exists", args[0], args[1])
			}
			return nil
		},
	}
}

func newProvidersCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered storage providers and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSCHEMES\tAPPEND\tREPLICATION\tBLOCK SIZE")
			for _, name := range e.registry.Providers() {
				d, err := e.registry.Driver(name)
				if err != nil {
					return err
				}
				caps := d.Capability()
				fmt.Fprintf(w, "%s\t%v\t%t\t%d\t%s\n", name, d.Schemes(), caps.SupportsAppend,
					caps.DefaultReplication, utils.FormatBytes(caps.DefaultBlockSize))
			}
			return w.Flush()
		},
	}
}
