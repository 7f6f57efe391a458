// Package logx provides structured logging for remindd on top of zerolog.
//
// Components receive a Logger value; the Service owns the sinks (console,
// file) and can swap levels/outputs at runtime via Apply without invalidating
// previously handed-out loggers.
package logx
