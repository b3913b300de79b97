// Package logx wraps zerolog with a small Field-based API and a runtime
// reconfigurable sink set (console, file, rate-limited Telegram forwarding).
package logx
