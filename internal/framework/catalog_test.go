package framework

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/model"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Len(t, c.Frameworks, model.TotalSteps)

	f, err := c.At(0)
	require.NoError(t, err)
	assert.Equal(t, "swot", f.Key)
	assert.Equal(t, model.KindSWOT, f.Kind)

	p, ok := c.Get("porter_five_forces")
	require.True(t, ok)
	assert.Equal(t, model.KindPorter, p.Kind)

	_, ok = c.Get("nope")
	assert.False(t, ok)

	_, err = c.At(12)
	assert.Error(t, err)

	defs := c.StepDefs()
	require.Len(t, defs, 12)
	assert.Equal(t, "okrs", defs[11].Key)
}

func TestValidateAndDecode(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	f, _ := c.Get("swot")

	out, err := f.Decode([]byte(`{"summary":"s","strengths":["brand"],"weaknesses":[],"opportunities":["export"],"threats":[]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"brand"}, out.SWOT.Strengths)

	_, err = f.Decode([]byte(`{"summary":"s","strengths":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")

	porter, _ := c.Get("porter_five_forces")
	err = porter.Validate([]byte(`{"summary":"s",
		"rivalry":{"rating":"extreme","rationale":"x"},
		"new_entrants":{"rating":"low","rationale":"x"},
		"substitutes":{"rating":"low","rationale":"x"},
		"buyer_power":{"rating":"low","rationale":"x"},
		"supplier_power":{"rating":"low","rationale":"x"}}`))
	assert.Error(t, err)

	okrs, _ := c.Get("okrs")
	out, err = okrs.Decode([]byte(`{"summary":"s","objectives":[{"objective":"grow","key_results":["+20% ARR"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, model.KindGeneric, out.Kind)
	assert.Contains(t, out.Generic, "objectives")
}

func TestMissingAnswers(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	f, _ := c.Get("swot")

	assert.Equal(t, []string{"advantages"}, f.MissingAnswers(nil))
	assert.Empty(t, f.MissingAnswers(map[string]string{"advantages": "speed"}))
	assert.Equal(t, []string{"advantages"}, f.MissingAnswers(map[string]string{"advantages": "  "}))
}

func TestSchemaHint(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	f, _ := c.Get("tam_sam_som")
	assert.Equal(t, "summary, currency, tam, sam, som", f.SchemaHint())
}

func TestParseRejectsWrongCount(t *testing.T) {
	_, err := Parse([]byte("frameworks:\n  - key: swot\n    kind: swot\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 12")
}

func TestParseRejectsDuplicates(t *testing.T) {
	var b strings.Builder
	b.WriteString("frameworks:\n")
	for i := 0; i < model.TotalSteps; i++ {
		b.WriteString("  - key: same\n")
	}
	_, err := Parse([]byte(b.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, defaultCatalog, 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Frameworks, model.TotalSteps)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
