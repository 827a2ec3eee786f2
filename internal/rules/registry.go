package rules

import (
	"errors"
	"fmt"
	"slices"
)

// Registry is the immutable set of supported alert definitions.
type Registry struct {
	defs    []*Definition
	byLabel map[string]*Definition
}

// NewRegistry validates defs and builds a Registry. Every problem found is
// reported, joined into one error.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byLabel: make(map[string]*Definition, len(defs))}
	var errs []error

	for i := range defs {
		d := defs[i]
		if d.Label == "" {
			errs = append(errs, fmt.Errorf("definition %d: empty label", i))
			continue
		}
		if _, dup := r.byLabel[d.Label]; dup {
			errs = append(errs, fmt.Errorf("%q: duplicate label", d.Label))
			continue
		}
		if err := validate(&d); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", d.Label, err))
			continue
		}
		r.defs = append(r.defs, &d)
		r.byLabel[d.Label] = &d
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Match returns the definition whose label equals label exactly.
func (r *Registry) Match(label string) (*Definition, bool) {
	d, ok := r.byLabel[label]
	return d, ok
}

// Definitions returns the registered definitions in declaration order.
func (r *Registry) Definitions() []*Definition {
	return slices.Clone(r.defs)
}

func validate(d *Definition) error {
	var errs []error

	supplied := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if !placeholderOnlyRE.MatchString(f.Placeholder) {
			errs = append(errs, fmt.Errorf("field %q: malformed placeholder", f.Placeholder))
		}
		if f.Selector == "" {
			errs = append(errs, fmt.Errorf("field %q: empty selector", f.Placeholder))
		}
		supplied[f.Placeholder] = true
	}

	templates := []string{d.Links.ByAddress, d.Links.ByName, d.Links.Generic}
	if d.Links.ByAddress == "" && d.Links.ByName == "" && d.Links.Generic == "" {
		errs = append(errs, errors.New("no link template"))
	}
	for _, t := range templates {
		for _, p := range placeholderRE.FindAllString(t, -1) {
			if !supplied[p] {
				errs = append(errs, fmt.Errorf("link placeholder %s has no field", p))
			}
		}
	}

	for action, list := range d.Resolutions {
		if !action.Valid() {
			errs = append(errs, fmt.Errorf("unknown action %q", action))
			continue
		}
		defaults := 0
		claimed := make(map[string]bool)
		for i, res := range list {
			if res.Notify && action != ActionEscalate {
				errs = append(errs, fmt.Errorf("%s[%d]: notify is only valid for escalate", action, i))
			}
			if res.Clients.IsDefault() {
				defaults++
				continue
			}
			if len(res.Clients.ids) == 0 {
				errs = append(errs, fmt.Errorf("%s[%d]: matcher lists no clients", action, i))
			}
			for _, id := range res.Clients.ids {
				if claimed[id] {
					errs = append(errs, fmt.Errorf("%s[%d]: client %q claimed by more than one entry", action, i, id))
				}
				claimed[id] = true
			}
		}
		if defaults > 1 {
			errs = append(errs, fmt.Errorf("%s: %d default entries", action, defaults))
		}
	}

	return errors.Join(errs...)
}
