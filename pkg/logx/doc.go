// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a small, stable API
// (Logger + Field helpers) while sinks and levels stay swappable at runtime:
// the Service keeps the zerolog root in an atomic.Value and Apply() replaces
// it without touching any call site.
package logx
