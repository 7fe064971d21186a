// Package logx wraps zerolog behind a small Field-based API so components can
// log through a live-reconfigurable root (level and sinks can change at
// runtime via Service.Apply without re-plumbing loggers).
package logx
