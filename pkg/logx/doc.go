// Package logx configures mindfulbot's structured logging.
//
// Components log through logx.Logger, a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels swappable at runtime (config hot reload)
package logx
