package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/strategy-cli/internal/model"
)

const systemPreamble = `You are a senior strategy consultant preparing a written strategic analysis for a client.
Ground every statement in the company facts and research below. Be specific to this company, avoid generic filler,
and answer with a single JSON object and nothing else.`

// companyContext renders the intake facts and, when present, the reviewed
// enrichment. It is the cacheable system prompt shared by every call for
// one submission.
func companyContext(sub *model.Submission, enr *model.Enrichment) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n## Company\n")
	field(&b, "Name", sub.CompanyName)
	field(&b, "Website", sub.Website)
	field(&b, "Industry", sub.Industry)
	field(&b, "Country", sub.Country)
	if sub.Challenge != "" {
		b.WriteString("\n## Stated challenge\n")
		b.WriteString(sub.Challenge)
		b.WriteString("\n")
	}

	if enr != nil && !enr.Data.IsZero() {
		b.WriteString("\n## Research\n")
		for _, s := range enr.Data.Sections() {
			if len(s.Fields) == 0 {
				continue
			}
			data, err := json.MarshalIndent(s.Fields, "", "  ")
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "### %s\n%s\n", s.Name, data)
		}
	}
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", name, value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
