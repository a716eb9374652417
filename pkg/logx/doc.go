// Package logx configures kibot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level/sinks swappable at runtime via Service.Apply
package logx
