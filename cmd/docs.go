//go:build unix

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/docs"
	"github.com/gurisko/workbench/internal/paths"
)

var (
	docsServe bool
	docsPort  int
	docsHost  string
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List or serve the workbench documentation",
	Long: `List the markdown pages under docs/, or serve them as HTML.

Examples:
  workbench docs                  # List pages
  workbench docs --serve          # Serve on http://localhost:8080
  workbench docs --serve -p 9000  # Serve on another port`,
	Args: cobra.NoArgs,
	RunE: runDocs,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.Flags().BoolVarP(&docsServe, "serve", "s", false, "serve docs over HTTP")
	docsCmd.Flags().IntVarP(&docsPort, "port", "p", 8080, "port for the docs server")
	docsCmd.Flags().StringVar(&docsHost, "host", "127.0.0.1", "address to bind the docs server to")
}

func runDocs(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	dir := paths.DocsDir(store.Root())
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("no docs/ directory in %s", store.Root())
	}

	if !docsServe {
		pages, err := docs.List(dir)
		if err != nil {
			return err
		}
		out.Title(dir)
		rows := make([][]string, 0, len(pages))
		for _, p := range pages {
			rows = append(rows, []string{p.Slug, p.Title})
		}
		out.Table([]string{"Page", "Title"}, rows)
		out.Muted("Run 'workbench docs --serve' to browse them.")
		return nil
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	srv := docs.NewServer(dir, store.Config().Name)
	return srv.Serve(ctx, fmt.Sprintf("%s:%d", docsHost, docsPort), func(addr string) {
		out.Info("Serving %s on http://%s (Ctrl+C to stop)", dir, addr)
	})
}
