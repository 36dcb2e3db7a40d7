// Package naming provides name derivation for namespaced DynamoDB tables.
package naming

import (
	"fmt"
	"strings"
)

// TableName computes the physical table name for a logical table.
// The result is "<stack>-<environment>-<table>"; empty segments are skipped.
func TableName(stack, environment, table string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{stack, environment, table} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// Namespace converts an environment name ("prod") to its namespace form ("/prod/").
func Namespace(environment string) string {
	return fmt.Sprintf("/%s/", EnvironmentName(environment))
}

// EnvironmentName converts a namespace ("/prod/") to its environment name ("prod").
// Values without surrounding slashes are returned unchanged.
func EnvironmentName(namespace string) string {
	return strings.Trim(namespace, "/")
}
