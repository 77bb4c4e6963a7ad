// Package logx configures threadlet's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, rotated by lumberjack
//   - Loggers handed out by a Service live across Service.Apply() calls
package logx
