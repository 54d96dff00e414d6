// Package report renders an analysis version as the markdown document handed
// to the PDF service.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/strategy-cli/internal/model"
)

// ID returns the stable report identifier for a version.
func ID(a *model.Analysis) string {
	sub := a.SubmissionID
	if len(sub) > 8 {
		sub = sub[:8]
	}
	return fmt.Sprintf("rpt-%s-v%d", sub, a.Version)
}

// Title returns the report title.
func Title(sub *model.Submission) string {
	return "Strategic Analysis: " + sub.CompanyName
}

// Format generates the report markdown.
func Format(sub *model.Submission, a *model.Analysis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", Title(sub))
	if sub.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", sub.Website)
	}
	if sub.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", sub.Industry)
	}
	fmt.Fprintf(&b, "Version: %d\n", a.Version)
	if a.ApprovedAt != nil {
		fmt.Fprintf(&b, "Approved: %s\n", a.ApprovedAt.Format("2 January 2006"))
	}
	b.WriteString("\n")

	if sub.Challenge != "" {
		b.WriteString("## The Challenge\n")
		b.WriteString(sub.Challenge)
		b.WriteString("\n\n")
	}

	b.WriteString("## Contents\n")
	for i, f := range a.Frameworks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Title)
	}
	b.WriteString("\n")

	for _, f := range a.Frameworks {
		writeFramework(&b, f)
	}
	return b.String()
}

func writeFramework(b *strings.Builder, f model.FrameworkOutput) {
	fmt.Fprintf(b, "## %s\n", f.Title)
	if f.Summary != "" {
		b.WriteString(f.Summary)
		b.WriteString("\n\n")
	}

	switch {
	case f.SWOT != nil:
		list(b, "Strengths", f.SWOT.Strengths)
		list(b, "Weaknesses", f.SWOT.Weaknesses)
		list(b, "Opportunities", f.SWOT.Opportunities)
		list(b, "Threats", f.SWOT.Threats)
	case f.PESTEL != nil:
		list(b, "Political", f.PESTEL.Political)
		list(b, "Economic", f.PESTEL.Economic)
		list(b, "Social", f.PESTEL.Social)
		list(b, "Technological", f.PESTEL.Technological)
		list(b, "Environmental", f.PESTEL.Environmental)
		list(b, "Legal", f.PESTEL.Legal)
	case f.Porter != nil:
		b.WriteString("| Force | Rating | Rationale |\n|---|---|---|\n")
		for _, row := range []struct {
			name  string
			force model.Force
		}{
			{"Competitive rivalry", f.Porter.Rivalry},
			{"Threat of new entrants", f.Porter.NewEntrants},
			{"Threat of substitutes", f.Porter.Substitutes},
			{"Buyer power", f.Porter.BuyerPower},
			{"Supplier power", f.Porter.SupplierPower},
		} {
			fmt.Fprintf(b, "| %s | %s | %s |\n", row.name, row.force.Rating, cell(row.force.Rationale))
		}
		b.WriteString("\n")
	case f.Market != nil:
		b.WriteString("| Market | Size | Basis |\n|---|---|---|\n")
		for _, row := range []struct {
			name string
			fig  model.MarketFigure
		}{
			{"TAM", f.Market.TAM},
			{"SAM", f.Market.SAM},
			{"SOM", f.Market.SOM},
		} {
			fmt.Fprintf(b, "| %s | %s %s | %s |\n", row.name, money(row.fig.Value), f.Market.Currency, cell(row.fig.Basis))
		}
		b.WriteString("\n")
	default:
		keys := make([]string, 0, len(f.Generic))
		for k := range f.Generic {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeGeneric(b, k, f.Generic[k])
		}
	}
}

func list(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func writeGeneric(b *strings.Builder, key string, v any) {
	heading := strings.ReplaceAll(key, "_", " ")
	if heading != "" {
		heading = strings.ToUpper(heading[:1]) + heading[1:]
	}
	switch t := v.(type) {
	case []any:
		items := make([]string, 0, len(t))
		for _, it := range t {
			items = append(items, fmt.Sprint(it))
		}
		list(b, heading, items)
	case string:
		fmt.Fprintf(b, "### %s\n%s\n\n", heading, t)
	default:
		fmt.Fprintf(b, "### %s\n%v\n\n", heading, t)
	}
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/")
}

func money(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.0fK", v/1e3)
	}
	return fmt.Sprintf("%.0f", v)
}
