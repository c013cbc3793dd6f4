package dbgp

import (
	"github.com/ctagard/dontbug/internal/breakpoint"
	"github.com/ctagard/dontbug/pkg/types"
)

// Protocol namespace constants attached to every response.
const (
	NamespaceDBGp   = "urn:debugger_protocol_v1"
	NamespaceXdebug = "https://xdebug.org/dbgp/xdebug"
)

// Namespaces returns the fixed namespace attributes in emission order.
func Namespaces() []Attr {
	return []Attr{
		{Name: "xmlns", Value: NamespaceDBGp},
		{Name: "xmlns:xdebug", Value: NamespaceXdebug},
	}
}

// Target is the interpreter state a context answers questions about.
type Target interface {
	// Frames returns the call stack innermost first.
	Frames() []types.StackFrame
	Source(filename string) (string, bool)
}

// Context is the per-session protocol state commands execute against.
// A Context is not safe for concurrent use.
type Context struct {
	Target      Target
	Breakpoints *breakpoint.Registry
	Features    *FeatureMap

	Status types.SessionStatus
	Reason types.StatusReason

	AppID         string
	IDEKey        string
	EngineVersion string

	lastTxn int
}

// NewContext builds a context in the starting state.
func NewContext(target Target, bps *breakpoint.Registry, features *FeatureMap) *Context {
	return &Context{
		Target:      target,
		Breakpoints: bps,
		Features:    features,
		Status:      types.SessionStatusStarting,
		Reason:      types.ReasonOK,
	}
}

// Divert returns a disposable copy of the context bound to target, a
// diverted copy of the interpreter. Changes made through the copy never
// reach c.
func (c *Context) Divert(target Target) *Context {
	d := *c
	d.Target = target
	if c.Breakpoints != nil {
		d.Breakpoints = c.Breakpoints.Clone()
	}
	if c.Features != nil {
		d.Features = c.Features.Clone()
	}
	return &d
}

// LastTransactionID is the highest transaction id executed against the
// live context.
func (c *Context) LastTransactionID() int {
	return c.lastTxn
}

// InitNode builds the DBGp init packet for a session.
func InitNode(sc *Context, fileURI string) *Node {
	lang := "dasm"
	if f, ok := sc.Features.Get("language_name"); ok {
		lang = f.String()
	}
	n := NewNode("init").
		SetAttr("appid", sc.AppID).
		SetAttr("idekey", sc.IDEKey).
		SetAttr("language", lang).
		SetAttr("protocol_version", "1.0").
		SetAttr("fileuri", fileURI)
	n.AddChild(NewNode("engine").SetAttr("version", sc.EngineVersion).SetCDATA("dontbug"))
	n.Decorate(Namespaces()...)
	return n
}
