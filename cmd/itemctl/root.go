package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacentio/itemstore/awsenv"
	"github.com/jacentio/itemstore/logging"
	"github.com/jacentio/itemstore/metrics"
	"github.com/jacentio/itemstore/store"
)

// openFunc builds the backend the commands run against.
type openFunc func(ctx context.Context, settings awsenv.Settings) (store.Backend, error)

func openDynamo(ctx context.Context, settings awsenv.Settings) (store.Backend, error) {
	cfg, err := awsenv.LoadAWSConfig(ctx, settings)
	if err != nil {
		return nil, err
	}
	return store.NewDynamoBackend(awsenv.NewDynamoDBClient(cfg, settings)), nil
}

var rootFlags = struct {
	table        string
	partitionKey string
	sortKey      string
	verbatim     bool
	namespace    string
	stack        string
	endpoint     string
	region       string
	logLevel     string
	metrics      bool
}{}

type app struct {
	open openFunc

	out      io.Writer
	errOut   io.Writer
	logger   *zap.Logger
	registry *prometheus.Registry
	store    *store.Store
	table    store.Table
}

func newRootCommand(open openFunc) *cobra.Command {
	a := &app{open: open}

	cmd := &cobra.Command{
		Use:               "itemctl",
		Short:             "Inspect and edit items in namespaced DynamoDB tables",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&rootFlags.table, "table", "", "Logical table name")
	f.StringVar(&rootFlags.partitionKey, "partition-key", store.DefaultPartitionKey, "Partition key attribute name")
	f.StringVar(&rootFlags.sortKey, "sort-key", "", "Sort key attribute name, if the table has one")
	f.BoolVar(&rootFlags.verbatim, "verbatim", false, "Use --table as the physical table name")
	f.StringVar(&rootFlags.namespace, "namespace", "", "Deployment namespace, e.g. /prod/ (defaults to SECRETS_NAMESPACE)")
	f.StringVar(&rootFlags.stack, "stack", "", "Stack name prefix (defaults to STACK_NAME)")
	f.StringVar(&rootFlags.endpoint, "endpoint", "", "DynamoDB endpoint override (defaults to DYNAMODB_ENDPOINT)")
	f.StringVar(&rootFlags.region, "region", "", "AWS region (defaults to AWS_REGION)")
	f.StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.BoolVar(&rootFlags.metrics, "metrics", false, "Print backend metrics to stderr on exit")

	cmd.AddCommand(
		newGetCommand(a),
		newPutCommand(a),
		newUpdateCommand(a),
		newDeleteCommand(a),
		newScanCommand(a),
		newQueryCommand(a),
		newPurgeCommand(a),
		newWaitCommand(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if rootFlags.table == "" {
		return errors.New("--table is required")
	}

	settings, err := awsenv.Load()
	if err != nil {
		return err
	}
	if rootFlags.region != "" {
		settings.Region = rootFlags.region
	}
	if rootFlags.endpoint != "" {
		settings.DynamoDBEndpoint = rootFlags.endpoint
	}

	logger, err := logging.New(rootFlags.logLevel, settings.LogDevelopment)
	if err != nil {
		return err
	}

	config := settings.StoreConfig()
	if rootFlags.namespace != "" {
		config.Namespace = rootFlags.namespace
	}
	if rootFlags.stack != "" {
		config.StackName = rootFlags.stack
	}

	backend, err := a.open(cmd.Context(), settings)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	if rootFlags.metrics {
		a.registry = prometheus.NewRegistry()
		backend = metrics.NewBackend(a.registry, backend)
	}

	a.table = store.Table{
		Name:         rootFlags.table,
		PartitionKey: rootFlags.partitionKey,
		SortKey:      rootFlags.sortKey,
		Verbatim:     rootFlags.verbatim,
	}
	if err := a.table.Validate(); err != nil {
		return err
	}

	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.logger = logger
	a.store = store.New(backend, config, store.WithLogger(logger))

	ctx := logging.WithCorrelationID(cmd.Context(), logging.NewCorrelationID())
	cmd.SetContext(ctx)
	return nil
}

func (a *app) teardown(*cobra.Command, []string) {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.registry == nil {
		return
	}
	families, err := a.registry.Gather()
	if err != nil {
		fmt.Fprintf(a.errOut, "gather metrics: %v\n", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(a.errOut, mf); err != nil {
			fmt.Fprintf(a.errOut, "write metrics: %v\n", err)
			return
		}
	}
}

// keyArgs accepts a partition key and an optional sort key.
var keyArgs = cobra.RangeArgs(1, 2)

func keyFromArgs(args []string) store.Key {
	key := store.Key{Partition: args[0]}
	if len(args) > 1 {
		key.Sort = args[1]
	}
	return key
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printItems(items []*store.Item) error {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, item.Map())
	}
	return a.print(out)
}

// parseAssignments parses name=value pairs. Values that are valid JSON are
// decoded (numbers, booleans, objects); anything else is kept as a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected name=value", pair)
		}
		out[name] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
