package rowstream

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	scansOpenedCounter otelmetric.Int64Counter
	rowsReadCounter    otelmetric.Int64Counter
	rowsRaggedCounter  otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/csvquery/csvbrowse/internal/rowstream")

	var err error
	scansOpenedCounter, err = meter.Int64Counter(
		"csvbrowse.rowstream.scans.opened",
		otelmetric.WithDescription("Number of row streams opened against uploaded files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create scans.opened counter: %w", err))
	}

	rowsReadCounter, err = meter.Int64Counter(
		"csvbrowse.rowstream.rows.read",
		otelmetric.WithDescription("Number of data rows decoded by row streams"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.read counter: %w", err))
	}

	rowsRaggedCounter, err = meter.Int64Counter(
		"csvbrowse.rowstream.rows.ragged",
		otelmetric.WithDescription("Number of rows whose cell count did not match the header and were padded or truncated"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.ragged counter: %w", err))
	}
}
