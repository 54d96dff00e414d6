package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/poll"
	"github.com/sells-group/strategy-cli/internal/store"
)

// statusReport is a point-in-time view of one submission's workflow.
type statusReport struct {
	Submission *model.Submission `json:"submission"`
	Enrichment *model.Enrichment `json:"enrichment,omitempty"`
	Analysis   *model.Analysis   `json:"analysis,omitempty"`
}

// Settled reports whether the workflow is waiting on an operator rather than
// on background generation.
func (r *statusReport) Settled() bool {
	if r.Enrichment == nil {
		return false
	}
	switch r.Enrichment.Status {
	case model.EnrichmentPending:
		return r.Enrichment.Failed()
	case model.EnrichmentCompleted:
		return true
	}
	if r.Analysis == nil {
		return false
	}
	switch r.Analysis.Status {
	case model.AnalysisPending, model.AnalysisProcessing:
		return false
	}
	return true
}

// loadStatus reads the submission and whatever later stages exist yet.
func loadStatus(ctx context.Context, st store.Store, submissionID string) (*statusReport, error) {
	sub, err := st.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	r := &statusReport{Submission: sub}

	r.Enrichment, err = st.GetEnrichmentBySubmission(ctx, submissionID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	r.Analysis, err = st.LatestAnalysis(ctx, submissionID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return r, nil
}

func formatStatus(out io.Writer, r *statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "SUBMISSION\t%s\t%s\t%s\n", r.Submission.ID, r.Submission.CompanyName, r.Submission.Status)

	if e := r.Enrichment; e != nil {
		detail := fmt.Sprintf("%d%% %s", e.Progress, e.CurrentStep)
		if e.Error != "" {
			detail = "error: " + e.Error
		} else if e.IsLocked {
			detail = "locked by " + e.LockedBy
		}
		_, _ = fmt.Fprintf(w, "ENRICHMENT\t%s\t%s\t%s\n", truncateID(e.ID), e.Status, detail)
	} else {
		_, _ = fmt.Fprintln(w, "ENRICHMENT\t-\tnot yet created\t")
	}

	if a := r.Analysis; a != nil {
		detail := a.PDFURL
		if a.Error != "" {
			detail = "error: " + a.Error
		}
		_, _ = fmt.Fprintf(w, "ANALYSIS\t%s\tv%d %s\t%s\n", truncateID(a.ID), a.Version, a.Status, detail)
	} else {
		_, _ = fmt.Fprintln(w, "ANALYSIS\t-\tnot yet created\t")
	}
	_ = w.Flush()
}

var statusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Show where a submission is in the workflow",
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

		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		fetch := func(ctx context.Context) (*statusReport, error) { return loadStatus(ctx, st, args[0]) }
		var report *statusReport
		if wait {
			report, err = poll.Until(ctx, fetch, (*statusReport).Settled,
				poll.WithInterval(cfg.Workflow.PollInterval()),
				poll.WithTimeout(timeout),
				poll.OnTick(func(attempt int) {
					fmt.Fprintf(os.Stderr, "waiting (%d)...\n", attempt)
				}),
			)
		} else {
			report, err = fetch(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatStatus(os.Stdout, report)
		return nil
	},
}

// truncateID shortens a UUID for table output.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().Bool("wait", false, "poll until the workflow needs an operator")
	statusCmd.Flags().Duration("timeout", 10*time.Minute, "give up waiting after this long")
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}
