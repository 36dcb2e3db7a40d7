// Package awsenv loads process settings from the environment and builds AWS clients.
package awsenv

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/jacentio/itemstore/internal/naming"
	"github.com/jacentio/itemstore/store"
)

// Settings are the process-wide settings read from the environment.
type Settings struct {
	// SecretsNamespace is the deployment namespace, e.g. "/prod/".
	SecretsNamespace string `envconfig:"SECRETS_NAMESPACE"`

	// UnitTestNamespace replaces SecretsNamespace while Testing is set.
	UnitTestNamespace string `envconfig:"UNIT_TEST_NAMESPACE"`
	Testing           bool   `envconfig:"TESTING"`

	Region string `envconfig:"AWS_REGION" default:"eu-west-1"`

	// DynamoDBEndpoint and EventBridgeEndpoint point clients at local emulators.
	DynamoDBEndpoint    string `envconfig:"DYNAMODB_ENDPOINT"`
	EventBridgeEndpoint string `envconfig:"EVENTBRIDGE_ENDPOINT"`

	StackName    string `envconfig:"STACK_NAME" default:"thiscovery-core"`
	EventBusName string `envconfig:"EVENT_BUS_NAME" default:"thiscovery-event-bus"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT"`
}

// Load reads Settings from the environment, applying defaults.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Namespace returns the active namespace in its "/env/" form, or "" when
// none is configured.
func (s Settings) Namespace() string {
	ns := s.SecretsNamespace
	if s.Testing && s.UnitTestNamespace != "" {
		ns = s.UnitTestNamespace
	}
	if naming.EnvironmentName(ns) == "" {
		return ""
	}
	return naming.Namespace(ns)
}

// StoreConfig returns the store configuration for these settings.
func (s Settings) StoreConfig() store.Config {
	return store.Config{
		StackName: s.StackName,
		Namespace: s.Namespace(),
	}
}
