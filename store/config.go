package store

import (
	"github.com/jacentio/itemstore/internal/naming"
)

// DefaultStackName is the stack prefix used when Config.StackName is empty.
const DefaultStackName = "thiscovery-core"

// Config holds configuration for the Store.
type Config struct {
	// StackName is the first segment of every physical table name.
	// Default: "thiscovery-core"
	StackName string

	// Namespace isolates otherwise identical tables across deployment
	// environments. Both "prod" and "/prod/" are accepted.
	Namespace string
}

// DefaultConfig returns the defaults for the given namespace.
func DefaultConfig(namespace string) Config {
	return Config{
		StackName: DefaultStackName,
		Namespace: naming.EnvironmentName(namespace),
	}
}

// validate ensures config values are usable.
func (c *Config) validate() {
	if c.StackName == "" {
		c.StackName = DefaultStackName
	}
	c.Namespace = naming.EnvironmentName(c.Namespace)
}

// TableName returns the physical table name for t.
func (c Config) TableName(t Table) string {
	if t.Verbatim {
		return t.Name
	}
	return naming.TableName(c.StackName, c.Namespace, t.Name)
}
