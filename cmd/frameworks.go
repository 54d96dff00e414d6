package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/framework"
)

func formatFrameworks(out io.Writer, c *framework.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tKEY\tKIND\tQUESTIONS\tTITLE")
	for i, f := range c.Frameworks {
		required := 0
		for _, q := range f.Questions {
			if q.Required {
				required++
			}
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d (%d required)\t%s\n", i, f.Key, f.Kind, len(f.Questions), required, f.Title)
	}
	_ = w.Flush()
}

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List the wizard's framework steps",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := initCatalog()
		if err != nil {
			return err
		}
		formatFrameworks(os.Stdout, catalog)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(frameworksCmd)
}
