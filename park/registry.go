package park

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds all available park variants.
type Registry struct {
	variants map[Park]func() Variant
	aliases  map[string]Park
}

// NewRegistry creates a registry with every supported park. Empty base URLs
// select the public sites.
func NewRegistry(npmBaseURL, jiamingBaseURL string) *Registry {
	r := &Registry{
		variants: make(map[Park]func() Variant),
		aliases:  make(map[string]Park),
	}

	r.Register(Yushan, []string{"yushan"}, func() Variant { return NewYushan(npmBaseURL) })
	r.Register(Xueba, []string{"xueba", "sheipa", "shei-pa"}, func() Variant { return NewXueba(npmBaseURL) })
	r.Register(Taroko, []string{"taroko"}, func() Variant { return NewTaroko(npmBaseURL) })
	r.Register(Jiaming, []string{"jiaming", "jmlnt"}, func() Variant { return NewJiaming(jiamingBaseURL) })

	return r
}

// Register adds a variant under its Chinese park name and any aliases.
func (r *Registry) Register(p Park, aliases []string, factory func() Variant) {
	r.variants[p] = factory
	r.aliases[normalizeParkName(p.String())] = p
	for _, a := range aliases {
		r.aliases[normalizeParkName(a)] = p
	}
}

// Get returns a new variant instance for a park.
func (r *Registry) Get(p Park) Variant {
	factory, ok := r.variants[p]
	if !ok {
		return nil
	}
	return factory()
}

// Lookup resolves a user supplied park name such as "玉山", "玉山國家公園"
// or "yushan".
func (r *Registry) Lookup(name string) (Variant, error) {
	p, ok := r.aliases[normalizeParkName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q, expected one of %s", ErrUnknownPark, name, strings.Join(r.Names(), " / "))
	}
	return r.Get(p), nil
}

// Names returns the Chinese names of all registered parks.
func (r *Registry) Names() []string {
	parks := make([]Park, 0, len(r.variants))
	for p := range r.variants {
		parks = append(parks, p)
	}
	sort.Slice(parks, func(i, j int) bool { return parks[i] < parks[j] })
	names := make([]string, len(parks))
	for i, p := range parks {
		names[i] = p.String()
	}
	return names
}

func normalizeParkName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, suffix := range []string{"國家公園", "國家步道", "national park"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return strings.TrimSpace(name)
}
