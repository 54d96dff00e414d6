// Package framework holds the catalog of strategic frameworks the wizard
// and analysis generator work through, with a JSON schema per framework.
package framework

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/strategy-cli/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Question is one prompt shown to the operator for a framework step.
type Question struct {
	ID       string `yaml:"id" json:"id"`
	Prompt   string `yaml:"prompt" json:"prompt"`
	Required bool   `yaml:"required" json:"required"`
}

// Framework describes a single strategic framework.
type Framework struct {
	Key         string              `yaml:"key" json:"key"`
	Title       string              `yaml:"title" json:"title"`
	Kind        model.FrameworkKind `yaml:"kind" json:"kind"`
	Description string              `yaml:"description" json:"description"`
	Questions   []Question          `yaml:"questions" json:"questions"`
	Schema      map[string]any      `yaml:"schema" json:"-"`

	compiled *gojsonschema.Schema
}

// Catalog is the ordered set of frameworks.
type Catalog struct {
	Frameworks []Framework `yaml:"frameworks"`

	byKey map[string]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "framework: read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes and checks a catalog. It must list exactly model.TotalSteps
// frameworks with unique keys and compilable schemas.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "framework: parse catalog")
	}
	if len(c.Frameworks) != model.TotalSteps {
		return nil, eris.Errorf("framework: catalog has %d frameworks, want %d", len(c.Frameworks), model.TotalSteps)
	}

	c.byKey = make(map[string]int, len(c.Frameworks))
	for i := range c.Frameworks {
		f := &c.Frameworks[i]
		if f.Key == "" {
			return nil, eris.Errorf("framework: entry %d has no key", i)
		}
		if _, dup := c.byKey[f.Key]; dup {
			return nil, eris.Errorf("framework: duplicate key %q", f.Key)
		}
		switch f.Kind {
		case model.KindSWOT, model.KindPESTEL, model.KindPorter, model.KindMarket, model.KindGeneric:
		case "":
			f.Kind = model.KindGeneric
		default:
			return nil, eris.Errorf("framework: %s has unknown kind %q", f.Key, f.Kind)
		}
		if f.Schema != nil {
			s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(f.Schema))
			if err != nil {
				return nil, eris.Wrapf(err, "framework: compile schema for %s", f.Key)
			}
			f.compiled = s
		}
		c.byKey[f.Key] = i
	}
	return &c, nil
}

// Get returns the framework with key.
func (c *Catalog) Get(key string) (Framework, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Framework{}, false
	}
	return c.Frameworks[i], true
}

// At returns the framework for wizard step idx.
func (c *Catalog) At(idx int) (Framework, error) {
	if idx < 0 || idx >= len(c.Frameworks) {
		return Framework{}, eris.Errorf("framework: step %d out of range", idx)
	}
	return c.Frameworks[idx], nil
}

// StepDefs returns the wizard step definitions in order.
func (c *Catalog) StepDefs() []model.StepDef {
	defs := make([]model.StepDef, len(c.Frameworks))
	for i, f := range c.Frameworks {
		defs[i] = model.StepDef{Key: f.Key, Title: f.Title, Kind: f.Kind}
	}
	return defs
}

// MissingAnswers lists required questions with no answer.
func (f Framework) MissingAnswers(answers map[string]string) []string {
	var missing []string
	for _, q := range f.Questions {
		if q.Required && strings.TrimSpace(answers[q.ID]) == "" {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

// Validate checks a raw JSON body against the framework schema.
func (f Framework) Validate(raw []byte) error {
	if f.compiled == nil {
		return nil
	}
	result, err := f.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return eris.Wrapf(err, "framework: validate %s", f.Key)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return eris.Errorf("framework: %s output does not match schema: %s", f.Key, strings.Join(msgs, "; "))
	}
	return nil
}

// Decode validates raw and builds the typed output.
func (f Framework) Decode(raw []byte) (model.FrameworkOutput, error) {
	if err := f.Validate(raw); err != nil {
		return model.FrameworkOutput{}, err
	}
	return model.DecodeFrameworkOutput(f.Key, f.Title, f.Kind, raw)
}

// SchemaHint renders the required top-level fields for prompts.
func (f Framework) SchemaHint() string {
	req, _ := f.Schema["required"].([]any)
	names := make([]string, 0, len(req))
	for _, r := range req {
		names = append(names, fmt.Sprint(r))
	}
	return strings.Join(names, ", ")
}
