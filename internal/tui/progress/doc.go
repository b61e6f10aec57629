// Package progress renders node init progress, either as an interactive
// bubbletea view or as plain lines when output is not a terminal.
package progress
