package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/model"
)

func formatVersions(out io.Writer, versions []model.Analysis) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tID\tSTATUS\tFRAMEWORKS\tFORKED_FROM\tUPDATED\tPDF")
	_, _ = fmt.Fprintln(w, "-------\t--\t------\t----------\t-----------\t-------\t---")

	for _, a := range versions {
		forked := "-"
		if a.ForkedFrom > 0 {
			forked = fmt.Sprintf("v%d", a.ForkedFrom)
		}
		pdf := a.PDFURL
		if pdf == "" {
			pdf = "-"
		}
		_, _ = fmt.Fprintf(w, "v%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			a.Version,
			truncateID(a.ID),
			a.Status,
			len(a.Frameworks),
			forked,
			a.UpdatedAt.Format("2006-01-02 15:04"),
			pdf,
		)
	}
	_ = w.Flush()
}

var versionsCmd = &cobra.Command{
	Use:   "versions <submission-id>",
	Short: "List analysis versions for a submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		versions, err := st.ListAnalyses(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "versions")
		}
		if len(versions) == 0 {
			fmt.Fprintln(os.Stderr, "No analysis versions yet.")
			return nil
		}
		formatVersions(os.Stdout, versions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
