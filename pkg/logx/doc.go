// Package logx configures countdownbot's structured logging.
//
// Logger is a thin value type on top of zerolog. Console output stays short
// (timestamp + file:line), the file sink writes JSON lines, and an optional
// Telegram sink forwards warnings to an operator chat with rate limiting.
package logx
