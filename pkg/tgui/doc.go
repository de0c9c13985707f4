// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data helpers (ns:action:payload)
//   - a message builder that escapes HTML by default
package tgui
