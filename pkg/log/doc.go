// Package log provides structured logging built on zerolog: a global
// logger configured once via Init, and WithComponent/WithX helpers for
// attaching context (component name, machine id, service id) to the
// loggers handed to individual packages.
package log
