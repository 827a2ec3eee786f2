package rules

import (
	"context"

	"github.com/linnemanlabs/caseinv/internal/enrich"
)

// Enricher resolves an address to location context. Implementations must
// always return a usable value.
type Enricher interface {
	Lookup(ctx context.Context, address string) enrich.Info
}

// Env is what a derived narrative may draw on.
type Env struct {
	Row    *AlertRow
	Enrich Enricher
}

// DeriveFunc computes narrative text for one alert row.
type DeriveFunc func(ctx context.Context, env Env) string

// Narrative is either literal text or a derivation over the alert row.
type Narrative struct {
	text   string
	derive DeriveFunc
	async  bool
}

// Literal returns a fixed narrative.
func Literal(text string) Narrative { return Narrative{text: text} }

// Derived returns a narrative computed from row content only.
func Derived(fn DeriveFunc) Narrative { return Narrative{derive: fn} }

// DerivedAsync returns a narrative that may wait on enrichment.
func DerivedAsync(fn DeriveFunc) Narrative { return Narrative{derive: fn, async: true} }

// IsLiteral reports whether n is fixed text.
func (n Narrative) IsLiteral() bool { return n.derive == nil }

// Async reports whether deriving n may suspend on an external lookup.
func (n Narrative) Async() bool { return n.async }

// ResolveNarrative produces the final narrative text for res. A nil enricher
// is replaced by one that always answers enrich.Unknown.
func ResolveNarrative(ctx context.Context, res *Resolution, row *AlertRow, e Enricher) string {
	n := res.Narrative
	if n.IsLiteral() {
		return n.text
	}
	if e == nil {
		e = unknownEnricher{}
	}
	return n.derive(ctx, Env{Row: row, Enrich: e})
}

type unknownEnricher struct{}

func (unknownEnricher) Lookup(context.Context, string) enrich.Info { return enrich.Unknown }
