// Package params models action parameter ingress as an ordered multimap:
// a list of (key, value) pairs where a repeated key collapses to a list and
// a singleton stays a scalar. Every transport (query string, form body,
// JSON body, path captures, websocket frames, CLI argv) folds into this one
// shape before validation.
package params

// Pair is a single (key, value) entry.
type Pair struct {
	Key   string
	Value any
}

// Params is an ordered multimap of raw action parameters.
type Params struct {
	pairs []Pair
}

// New creates an empty multimap.
func New() *Params {
	return &Params{}
}

// FromMap creates a multimap from a plain map. List values are appended as
// repeats so the collapsing view reproduces them.
func FromMap(m map[string]any) *Params {
	p := New()
	for k, v := range m {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				p.Add(k, item)
			}
			continue
		}
		p.Add(k, v)
	}
	return p
}

// Add appends a (key, value) pair, preserving insertion order.
func (p *Params) Add(key string, value any) {
	p.pairs = append(p.pairs, Pair{Key: key, Value: value})
}

// Set removes all existing pairs for key and appends a single value.
func (p *Params) Set(key string, value any) {
	kept := p.pairs[:0]
	for _, pair := range p.pairs {
		if pair.Key != key {
			kept = append(kept, pair)
		}
	}
	p.pairs = kept
	p.Add(key, value)
}

// Get returns the first value for key.
func (p *Params) Get(key string) (any, bool) {
	for _, pair := range p.pairs {
		if pair.Key == key {
			return pair.Value, true
		}
	}
	return nil, false
}

// Values returns every value for key, in insertion order.
func (p *Params) Values(key string) []any {
	var out []any
	for _, pair := range p.pairs {
		if pair.Key == key {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Len returns the number of pairs.
func (p *Params) Len() int {
	return len(p.pairs)
}

// Map returns the collapsing view: singletons become scalars, repeated keys
// become ordered lists. This is the shape validation consumes.
func (p *Params) Map() map[string]any {
	out := make(map[string]any, len(p.pairs))
	counts := make(map[string]int, len(p.pairs))
	for _, pair := range p.pairs {
		counts[pair.Key]++
	}
	for _, pair := range p.pairs {
		if counts[pair.Key] == 1 {
			out[pair.Key] = pair.Value
			continue
		}
		list, _ := out[pair.Key].([]any)
		out[pair.Key] = append(list, pair.Value)
	}
	return out
}
