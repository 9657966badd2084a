//go:build unix

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var cdCmd = &cobra.Command{
	Use:   "cd [target]",
	Short: "Print the path of the workbench root or a repo",
	Long: `Print the absolute path of a repo (by name), a path relative to the
workbench root, or the root itself. Meant for shell integration:

  wcd() { cd "$(workbench cd "$@")"; }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCd,
}

func init() {
	rootCmd.AddCommand(cdCmd)
}

func runCd(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprintln(out.Out(), root)
		return nil
	}
	target := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	if store.Config().Has(target) {
		r, _ := store.Config().Repo(target)
		dir := r.Dir(root)
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("repo %q is not cloned yet, run: workbench init", target)
		}
		fmt.Fprintln(out.Out(), dir)
		return nil
	}

	resolved := filepath.Join(root, target)
	if _, err := os.Stat(resolved); err == nil {
		fmt.Fprintln(out.Out(), resolved)
		return nil
	}
	return fmt.Errorf("not found: %q (not a repo name or path under %s)", target, root)
}
