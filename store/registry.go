package store

import (
	"fmt"
	"sort"
)

// Registry holds the known table descriptors for a namespace.
//
// It resolves a descriptor from either its logical name ("users") or its
// physical name ("thiscovery-core-prod-users"), which is what stream records
// and operators carry.
type Registry struct {
	config     Config
	byName     map[string]Table
	byPhysical map[string]Table
}

// NewRegistry creates an empty Registry for the given configuration.
func NewRegistry(config Config) *Registry {
	config.validate()
	return &Registry{
		config:     config,
		byName:     make(map[string]Table),
		byPhysical: make(map[string]Table),
	}
}

// Register adds a table descriptor. Registering a second table with the same
// logical or physical name is an error.
func (r *Registry) Register(t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	physical := r.config.TableName(t)
	if _, ok := r.byName[t.Name]; ok {
		return fmt.Errorf("%w: table %q already registered", ErrInvalid, t.Name)
	}
	if _, ok := r.byPhysical[physical]; ok {
		return fmt.Errorf("%w: table %q already registered", ErrInvalid, physical)
	}
	r.byName[t.Name] = t
	r.byPhysical[physical] = t
	return nil
}

// MustRegister is like Register but panics on error.
// This should be called during program initialisation.
func (r *Registry) MustRegister(tables ...Table) {
	for _, t := range tables {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the table registered under a logical or physical name.
func (r *Registry) Lookup(name string) (Table, bool) {
	if t, ok := r.byName[name]; ok {
		return t, true
	}
	t, ok := r.byPhysical[name]
	return t, ok
}

// Tables returns all registered tables ordered by logical name.
func (r *Registry) Tables() []Table {
	tables := make([]Table, 0, len(r.byName))
	for _, t := range r.byName {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}

// Config returns the configuration used to derive physical names.
func (r *Registry) Config() Config {
	return r.config
}
