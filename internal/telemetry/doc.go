// Package telemetry provides OpenTelemetry tracing and metrics for pagesmith.
//
// Spans and metrics are exported over OTLP (gRPC by default, HTTP/protobuf
// optionally) to a collector. When disabled, Tracer and Meter fall back to
// the global no-op providers so instrumented code never branches on it.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("github.com/fyrsmithlabs/pagesmith/internal/workflow")
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
