// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components can take a Logger value that stays live across
// runtime config changes (level/sink swaps) without holding a pointer to
// the logging service itself.
package logx
