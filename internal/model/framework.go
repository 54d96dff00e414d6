package model

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

// FrameworkKind selects which variant of a FrameworkOutput is populated.
type FrameworkKind string

const (
	KindSWOT    FrameworkKind = "swot"
	KindPESTEL  FrameworkKind = "pestel"
	KindPorter  FrameworkKind = "porter"
	KindMarket  FrameworkKind = "tam_sam_som"
	KindGeneric FrameworkKind = "generic"
)

// FrameworkOutput is the result of one strategic framework. Exactly one
// variant field matching Kind is set; frameworks without a dedicated shape
// use Generic.
type FrameworkOutput struct {
	Key     string        `json:"key"`
	Title   string        `json:"title"`
	Kind    FrameworkKind `json:"kind"`
	Summary string        `json:"summary,omitempty"`

	SWOT    *SWOT             `json:"swot,omitempty"`
	PESTEL  *PESTEL           `json:"pestel,omitempty"`
	Porter  *PorterFiveForces `json:"porter,omitempty"`
	Market  *MarketSizing     `json:"market,omitempty"`
	Generic map[string]any    `json:"generic,omitempty"`
}

// SWOT holds the four quadrants.
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// PESTEL holds the six macro-environment factors.
type PESTEL struct {
	Political     []string `json:"political"`
	Economic      []string `json:"economic"`
	Social        []string `json:"social"`
	Technological []string `json:"technological"`
	Environmental []string `json:"environmental"`
	Legal         []string `json:"legal"`
}

// Force is one of Porter's five forces.
type Force struct {
	Rating    string `json:"rating"` // low | medium | high
	Rationale string `json:"rationale"`
}

// PorterFiveForces holds the industry-structure assessment.
type PorterFiveForces struct {
	Rivalry       Force `json:"rivalry"`
	NewEntrants   Force `json:"new_entrants"`
	Substitutes   Force `json:"substitutes"`
	BuyerPower    Force `json:"buyer_power"`
	SupplierPower Force `json:"supplier_power"`
}

// MarketFigure is one market-size estimate.
type MarketFigure struct {
	Value float64 `json:"value"`
	Basis string  `json:"basis"`
}

// MarketSizing holds the TAM/SAM/SOM estimate.
type MarketSizing struct {
	Currency string       `json:"currency"`
	TAM      MarketFigure `json:"tam"`
	SAM      MarketFigure `json:"sam"`
	SOM      MarketFigure `json:"som"`
}

// DecodeFrameworkOutput builds an output of the given kind from the raw JSON
// body produced by a generator. Unknown kinds decode as generic.
func DecodeFrameworkOutput(key, title string, kind FrameworkKind, raw []byte) (FrameworkOutput, error) {
	out := FrameworkOutput{Key: key, Title: title, Kind: kind}

	var envelope struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(raw, &envelope)
	out.Summary = envelope.Summary

	var err error
	switch kind {
	case KindSWOT:
		out.SWOT = &SWOT{}
		err = json.Unmarshal(raw, out.SWOT)
	case KindPESTEL:
		out.PESTEL = &PESTEL{}
		err = json.Unmarshal(raw, out.PESTEL)
	case KindPorter:
		out.Porter = &PorterFiveForces{}
		err = json.Unmarshal(raw, out.Porter)
	case KindMarket:
		out.Market = &MarketSizing{}
		err = json.Unmarshal(raw, out.Market)
	default:
		out.Kind = KindGeneric
		out.Generic = map[string]any{}
		err = json.Unmarshal(raw, &out.Generic)
		delete(out.Generic, "summary")
	}
	if err != nil {
		return FrameworkOutput{}, eris.Wrapf(err, "model: decode %s output", key)
	}
	return out, nil
}

// Validate checks that exactly the variant named by Kind is populated.
func (f FrameworkOutput) Validate() error {
	set := map[FrameworkKind]bool{
		KindSWOT:    f.SWOT != nil,
		KindPESTEL:  f.PESTEL != nil,
		KindPorter:  f.Porter != nil,
		KindMarket:  f.Market != nil,
		KindGeneric: f.Generic != nil,
	}
	want, known := set[f.Kind]
	if !known {
		return apperr.Invalid("frameworks", fmt.Sprintf("%s has unknown kind %q", f.Key, f.Kind))
	}
	if !want {
		return apperr.Invalid("frameworks", fmt.Sprintf("%s missing %s body", f.Key, f.Kind))
	}
	for k, ok := range set {
		if ok && k != f.Kind {
			return apperr.Invalid("frameworks", fmt.Sprintf("%s is %s but carries a %s body", f.Key, f.Kind, k))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (f FrameworkOutput) Clone() FrameworkOutput {
	out := f
	if f.SWOT != nil {
		out.SWOT = &SWOT{
			Strengths:     cloneStrings(f.SWOT.Strengths),
			Weaknesses:    cloneStrings(f.SWOT.Weaknesses),
			Opportunities: cloneStrings(f.SWOT.Opportunities),
			Threats:       cloneStrings(f.SWOT.Threats),
		}
	}
	if f.PESTEL != nil {
		out.PESTEL = &PESTEL{
			Political:     cloneStrings(f.PESTEL.Political),
			Economic:      cloneStrings(f.PESTEL.Economic),
			Social:        cloneStrings(f.PESTEL.Social),
			Technological: cloneStrings(f.PESTEL.Technological),
			Environmental: cloneStrings(f.PESTEL.Environmental),
			Legal:         cloneStrings(f.PESTEL.Legal),
		}
	}
	if f.Porter != nil {
		p := *f.Porter
		out.Porter = &p
	}
	if f.Market != nil {
		m := *f.Market
		out.Market = &m
	}
	if f.Generic != nil {
		out.Generic = cloneMap(f.Generic)
	}
	return out
}

// CloneOutputs deep-copies a slice of outputs.
func CloneOutputs(in []FrameworkOutput) []FrameworkOutput {
	if in == nil {
		return nil
	}
	out := make([]FrameworkOutput, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

// Highlights returns up to n short bullet lines describing the output,
// used for prior-step context and report summaries.
func (f FrameworkOutput) Highlights(n int) []string {
	var lines []string
	add := func(prefix string, items []string) {
		for _, it := range items {
			lines = append(lines, prefix+": "+it)
		}
	}
	switch f.Kind {
	case KindSWOT:
		if f.SWOT != nil {
			add("Strength", f.SWOT.Strengths)
			add("Weakness", f.SWOT.Weaknesses)
			add("Opportunity", f.SWOT.Opportunities)
			add("Threat", f.SWOT.Threats)
		}
	case KindPESTEL:
		if f.PESTEL != nil {
			add("Political", f.PESTEL.Political)
			add("Economic", f.PESTEL.Economic)
			add("Social", f.PESTEL.Social)
			add("Technological", f.PESTEL.Technological)
			add("Environmental", f.PESTEL.Environmental)
			add("Legal", f.PESTEL.Legal)
		}
	case KindPorter:
		if f.Porter != nil {
			lines = append(lines,
				"Rivalry: "+f.Porter.Rivalry.Rating,
				"New entrants: "+f.Porter.NewEntrants.Rating,
				"Substitutes: "+f.Porter.Substitutes.Rating,
				"Buyer power: "+f.Porter.BuyerPower.Rating,
				"Supplier power: "+f.Porter.SupplierPower.Rating,
			)
		}
	case KindMarket:
		if f.Market != nil {
			lines = append(lines,
				fmt.Sprintf("TAM: %.0f %s", f.Market.TAM.Value, f.Market.Currency),
				fmt.Sprintf("SAM: %.0f %s", f.Market.SAM.Value, f.Market.Currency),
				fmt.Sprintf("SOM: %.0f %s", f.Market.SOM.Value, f.Market.Currency),
			)
		}
	default:
		for _, k := range sortedKeys(f.Generic) {
			lines = append(lines, fmt.Sprintf("%s: %v", k, f.Generic[k]))
		}
	}
	if n > 0 && len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
