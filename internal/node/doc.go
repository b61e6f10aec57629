// Package node manages nodes: branches checked out into their own git
// worktrees, created from a registered repository.
//
// Creating a node persists a pending record and returns immediately; a
// background worker builds the worktree under the repository lock and reports
// progress through a nodeinit.Coordinator. Delete cancels in-flight work and
// waits for it before touching the worktree.
package node
