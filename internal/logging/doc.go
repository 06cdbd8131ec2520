// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace, request, invocation, task identity)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTask(ctx, logging.Task{ID: "calc-1", Round: 1, Nonce: "n12345", Email: "a@b.com"})
//	logger.Info(ctx, "repository ready", zap.String("repo", name))
//
// Output includes the correlation fields:
//
//	{
//	  "ts": "2025-11-24T10:15:30Z",
//	  "level": "info",
//	  "msg": "repository ready",
//	  "invocation.id": "1mvb4w3b2kb0p",
//	  "task.id": "calc-1",
//	  "task.round": 1,
//	  "task.nonce": "n12345",
//	  "repo": "calc-1-a-n1234"
//	}
//
// # Testing
//
// NewTestLogger returns a logger backed by zaptest/observer with assertion
// helpers (AssertLogged, AssertField, AssertNoSecrets).
package logging
