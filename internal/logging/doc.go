// Package logging provides structured JSON logging with size-based
// file rotation for context-server. Logs default to
// ~/.context-server/logs/server.log; MCP mode routes everything to
// file only to keep stdout clean for the protocol stream.
package logging
