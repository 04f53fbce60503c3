// Package logx configures sheetbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The Service variant keeps loggers "live" across Apply() calls so log
// settings can change on reload without re-plumbing logger values.
package logx
