// Package scan runs the policy engine over the occurrences a change
// introduces: walk, dedupe, resolve facts in parallel, evaluate.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/sizeguard/pkg/content"
	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/policy"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// Finding is one policy violation, attributed to the occurrence that was
// evaluated.
type Finding struct {
	Severity policy.Severity
	RuleID   string // empty when no rule fired
	Stage    policy.Stage
	Reason   string

	Path   string
	Commit object.Hash
	Object object.Hash
	Status repo.ChangeStatus
	SizeKB float64

	Binary     bool
	MIME       string
	Confidence content.Confidence

	// Duplicates counts later occurrences of the same object that were not
	// evaluated separately. Always zero without dedupe.
	Duplicates int
}

// Result is the outcome of one run. Findings are in traversal order.
type Result struct {
	Base, Head  string
	Occurrences int
	Evaluated   int
	Ignored     int
	Allowed     int
	Findings    []Finding
	Elapsed     time.Duration
}

// Count returns how many findings have exactly severity s.
func (r *Result) Count(s policy.Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// Failed reports whether any finding is at or above floor.
func (r *Result) Failed(floor policy.Severity) bool {
	for _, f := range r.Findings {
		if f.Severity.AtLeast(floor) {
			return true
		}
	}
	return false
}

// Options tune an Engine.
type Options struct {
	// Dedupe evaluates each content object once, at its earliest occurrence.
	Dedupe bool
	// Workers bounds concurrent fact resolution. <= 0 uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Engine wires a walker, fact sources and a policy model. It keeps no state
// between runs and never writes to the repository.
type Engine struct {
	walker     history.Walker
	sizes      content.SizeResolver
	classifier content.Classifier
	model      *policy.Model
	opts       Options
	log        *slog.Logger
}

func NewEngine(w history.Walker, sizes content.SizeResolver, classifier content.Classifier, model *policy.Model, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{walker: w, sizes: sizes, classifier: classifier, model: model, opts: opts, log: log}
}

type unit struct {
	occ        history.Occurrence
	duplicates int
}

type outcome struct {
	verdict policy.Verdict
	class   content.Class
}

// Run evaluates every occurrence introduced by head relative to base.
// Any walker, size or classification error aborts the run; there is no
// partial result.
func (e *Engine) Run(ctx context.Context, base, head string) (*Result, error) {
	start := time.Now()
	occs, err := e.walker.Enumerate(ctx, base, head)
	if err != nil {
		return nil, err
	}

	units := e.plan(occs)
	e.log.Debug("evaluating", "occurrences", len(occs), "units", len(units), "dedupe", e.opts.Dedupe, "workers", e.opts.Workers)

	outcomes := make([]outcome, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := e.evaluate(gctx, units[i].occ)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Base: base, Head: head, Occurrences: len(occs), Evaluated: len(units)}
	for i, u := range units {
		out := outcomes[i]
		switch out.verdict.Kind {
		case policy.Ignored:
			res.Ignored++
		case policy.Allowed:
			res.Allowed++
		case policy.Violation:
			res.Findings = append(res.Findings, Finding{
				Severity:   out.verdict.Severity,
				RuleID:     out.verdict.RuleID,
				Stage:      out.verdict.Stage,
				Reason:     out.verdict.Reason,
				Path:       u.occ.Path,
				Commit:     u.occ.Commit,
				Object:     u.occ.Object,
				Status:     u.occ.Status,
				SizeKB:     out.verdict.SizeKB,
				Binary:     out.class.Binary,
				MIME:       out.class.MIME,
				Confidence: out.class.Confidence,
				Duplicates: u.duplicates,
			})
		}
	}
	res.Elapsed = time.Since(start)
	e.log.Debug("scan complete", "findings", len(res.Findings), "ignored", res.Ignored, "elapsed", res.Elapsed)
	return res, nil
}

// plan turns the walker stream into evaluation units. With dedupe, only
// first occurrences become units and later ones are tallied against them.
func (e *Engine) plan(occs []history.Occurrence) []unit {
	if !e.opts.Dedupe {
		units := make([]unit, len(occs))
		for i, occ := range occs {
			units[i] = unit{occ: occ}
		}
		return units
	}

	idx := NewDedupeIndex()
	var units []unit
	for _, occ := range occs {
		if first, _ := idx.Record(occ); first {
			units = append(units, unit{occ: occ})
		}
	}
	for i := range units {
		units[i].duplicates = idx.Duplicates(units[i].occ.Object)
	}
	return units
}

func (e *Engine) evaluate(ctx context.Context, occ history.Occurrence) (outcome, error) {
	if v, ok := policy.Exempt(e.model, occ.Path); ok {
		return outcome{verdict: v}, nil
	}

	size, err := e.sizes.SizeOf(ctx, occ.Object)
	if err != nil {
		return outcome{}, fmt.Errorf("size of %s (%s at %s): %w", occ.Object, occ.Path, occ.Commit.Short(), err)
	}
	class, err := e.classifier.Classify(ctx, occ.Object)
	if err != nil {
		return outcome{}, fmt.Errorf("classify %s (%s at %s): %w", occ.Object, occ.Path, occ.Commit.Short(), err)
	}

	v := policy.Evaluate(e.model, policy.Facts{
		Path:   occ.Path,
		SizeKB: policy.KB(size),
		Binary: class.Binary,
		MIME:   class.MIME,
	})
	return outcome{verdict: v, class: class}, nil
}
