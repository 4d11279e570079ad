package classifier

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Registry maps stores to profiles. Adding a store type means registering a
// profile, not touching the classifier.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	fallback *Profile
}

// NewRegistry returns a registry holding the built-in profiles.
func NewRegistry() *Registry {
	fallback := GenericMarketplace()
	r := &Registry{
		profiles: make(map[string]*Profile),
		fallback: &fallback,
	}
	for _, p := range builtinProfiles() {
		if err := r.Register(p); err != nil {
			panic(fmt.Sprintf("builtin profile %s: %v", p.Name, err))
		}
	}
	return r
}

// Register adds or replaces the profile with the same name.
func (r *Registry) Register(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	hosts := make([]string, 0, len(p.Hosts))
	for _, h := range p.Hosts {
		hosts = append(hosts, strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www."))
	}
	p.Hosts = hosts

	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[strings.ToLower(p.Name)] = &p
	return nil
}

// LoadFile registers every profile in a YAML file. Nothing is registered if
// any profile is invalid.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read profiles: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return 0, fmt.Errorf("failed to parse profiles %s: %w", path, err)
	}
	for i := range pf.Profiles {
		if err := pf.Profiles[i].Validate(); err != nil {
			return 0, err
		}
	}
	for _, p := range pf.Profiles {
		if err := r.Register(p); err != nil {
			return 0, err
		}
	}
	return len(pf.Profiles), nil
}

// Resolve picks the profile for a store: by name, then by base URL host,
// then the generic marketplace rules.
func (r *Registry) Resolve(store models.Store) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.profiles[strings.ToLower(store.Name)]; ok {
		return p
	}

	host := hostOf(store.BaseURL)
	if host != "" {
		for _, name := range r.sortedNames() {
			p := r.profiles[name]
			for _, h := range p.Hosts {
				if host == h || strings.HasSuffix(host, "."+h) {
					return p
				}
			}
		}
	}

	return r.fallback
}

func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, name := range r.sortedNames() {
		out = append(out, *r.profiles[name])
	}
	return out
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
