package query

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	queriesCounter      otelmetric.Int64Counter
	cacheLookupsCounter otelmetric.Int64Counter
	earlyStopCounter    otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/csvquery/csvbrowse/internal/query")

	var err error
	queriesCounter, err = meter.Int64Counter(
		"csvbrowse.query.executed",
		otelmetric.WithDescription("Number of queries executed, by operation and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.executed counter: %w", err))
	}

	cacheLookupsCounter, err = meter.Int64Counter(
		"csvbrowse.query.metadata.lookups",
		otelmetric.WithDescription("Number of metadata cache lookups, by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create metadata.lookups counter: %w", err))
	}

	earlyStopCounter, err = meter.Int64Counter(
		"csvbrowse.query.early.terminated",
		otelmetric.WithDescription("Number of scans stopped before end of file because the page or limit was filled"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create early.terminated counter: %w", err))
	}
}
