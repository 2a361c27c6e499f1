// Package tlog adapts TaskIt's external Logger collaborator --
// log(level, message) with levels DEBUG|INFO|ERROR|IMPORTANT -- onto
// go.uber.org/zap, the structured logger the rest of this codebase uses.
//
// A Node additionally ports the reference implementation's LoggerNode /
// Splitter idea: a hierarchy sieve that forwards only allowed levels to
// a set of child Loggers. That piece is kept hand-rolled rather than
// built from a zap feature because it is the exact "Logger interface"
// the spec names as an external collaborator to be implemented against,
// not an ambient concern zap itself owns.
package tlog

import (
	"go.uber.org/zap"
)

// Level mirrors the four importances spec.md's Logger interface names.
type Level string

const (
	DEBUG     Level = "DEBUG"
	INFO      Level = "INFO"
	ERROR     Level = "ERROR"
	IMPORTANT Level = "IMPORTANT"
)

// Logger is the external collaborator every TaskIt component logs
// through.
type Logger interface {
	Log(level Level, msg string, fields ...zap.Field)
}

// Null is a Logger that discards everything, matching the reference
// implementation's null_logger default.
var Null Logger = nullLogger{}

type nullLogger struct{}

func (nullLogger) Log(Level, string, ...zap.Field) {}

// Zap adapts a *zap.Logger to the Logger interface.
type Zap struct {
	L *zap.Logger
}

// NewZap wraps l, or builds a sane production logger if l is nil.
func NewZap(l *zap.Logger) *Zap {
	if l == nil {
		built, err := zap.NewProduction()
		if err != nil {
			built = zap.NewNop()
		}
		l = built
	}
	return &Zap{L: l}
}

func (z *Zap) Log(level Level, msg string, fields ...zap.Field) {
	switch level {
	case DEBUG:
		z.L.Debug(msg, fields...)
	case INFO:
		z.L.Info(msg, fields...)
	case ERROR:
		z.L.Error(msg, fields...)
	case IMPORTANT:
		// zap has no "important" level; map it onto Warn so it's
		// visible above INFO without being treated as an ERROR.
		z.L.Warn(msg, fields...)
	default:
		z.L.Info(msg, fields...)
	}
}

// Node is a logging supervisor: it forwards allowed-level events to a
// set of child Loggers and does no logging of its own, the Go analogue
// of the reference implementation's LoggerNode.
type Node struct {
	children []Logger
	allowed  map[Level]bool // nil means every level is allowed
}

// NewNode builds a Node that forwards to children. If allowed is empty,
// every level passes through.
func NewNode(allowed []Level, children ...Logger) *Node {
	n := &Node{children: children}
	if len(allowed) > 0 {
		n.allowed = make(map[Level]bool, len(allowed))
		for _, lvl := range allowed {
			n.allowed[lvl] = true
		}
	}
	return n
}

func (n *Node) Log(level Level, msg string, fields ...zap.Field) {
	if n.allowed != nil && !n.allowed[level] {
		return
	}
	for _, child := range n.children {
		child.Log(level, msg, fields...)
	}
}

// AddChildren registers additional loggers as children of n.
func (n *Node) AddChildren(children ...Logger) {
	n.children = append(n.children, children...)
}
