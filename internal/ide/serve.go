package ide

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/pkg/types"
)

// codeInternal is the DBGp "internal exception" error code.
const codeInternal = 998

// Target is the session an IDE drives.
type Target interface {
	InitPacket() string
	Dispatch(command string) (string, error)
	Continue(ctx context.Context) (types.SessionInfo, error)
	Step(ctx context.Context, kind types.StepKind) (types.SessionInfo, error)
	Location() (types.SourceLocation, bool)
}

// Outcome reports why Serve returned.
type Outcome int

const (
	// OutcomeClosed means the IDE hung up or ctx ended.
	OutcomeClosed Outcome = iota
	// OutcomeDetached means the IDE sent detach.
	OutcomeDetached
	// OutcomeStopped means the IDE sent stop; the caller should end the
	// session.
	OutcomeStopped

	serving Outcome = -1
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClosed:
		return "closed"
	case OutcomeDetached:
		return "detached"
	case OutcomeStopped:
		return "stopped"
	default:
		return "serving"
	}
}

var stepKinds = map[string]types.StepKind{
	"step_into": types.StepInto,
	"step_over": types.StepOver,
	"step_out":  types.StepOut,
}

// Serve sends the init packet and answers commands until the IDE hangs
// up, detaches or stops, or ctx ends. Continuation commands drive the
// target; every other command goes to its live DBGp context. A command
// the target cannot execute at all drops the connection.
func Serve(ctx context.Context, t *Transport, target Target, log logr.Logger) (Outcome, error) {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	if err := t.SendPacket(target.InitPacket()); err != nil {
		return OutcomeClosed, err
	}
	log.Info("Connected to IDE")

	for {
		command, err := t.ReadCommand()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				log.V(1).Info("IDE connection closed")
				return OutcomeClosed, nil
			}
			return OutcomeClosed, err
		}
		if command == "" {
			continue
		}
		log.V(2).Info("ide -> dontbug", "command", command)

		payload, outcome, err := dispatch(ctx, target, command)
		if err != nil {
			log.Error(err, "Dropping IDE connection", "command", command)
			return OutcomeClosed, err
		}
		if err := t.SendPacket(payload); err != nil {
			return OutcomeClosed, err
		}
		if outcome != serving {
			log.Info("IDE session ended", "outcome", outcome.String())
			return outcome, nil
		}
	}
}

func dispatch(ctx context.Context, target Target, command string) (string, Outcome, error) {
	cmd, err := dbgp.ParseCommand(command)
	if err != nil {
		resp, err := target.Dispatch(command)
		return resp, serving, err
	}

	switch cmd.Name {
	case "run":
		info, err := target.Continue(ctx)
		return continuation(cmd, target, info, err), serving, nil
	case "step_into", "step_over", "step_out":
		info, err := target.Step(ctx, stepKinds[cmd.Name])
		return continuation(cmd, target, info, err), serving, nil
	case "stop":
		return statusResponse(cmd, types.SessionStatusStopped, types.ReasonOK).Serialize(), OutcomeStopped, nil
	case "detach":
		return statusResponse(cmd, types.SessionStatusStopping, types.ReasonOK).Serialize(), OutcomeDetached, nil
	}

	resp, err := target.Dispatch(command)
	return resp, serving, err
}

func statusResponse(cmd dbgp.Command, status types.SessionStatus, reason types.StatusReason) *dbgp.Node {
	return dbgp.NewNode("response").
		SetAttr("command", cmd.Name).
		SetAttr("transaction_id", strconv.Itoa(cmd.TransactionID)).
		SetAttr("status", string(status)).
		SetAttr("reason", string(reason)).
		Decorate(dbgp.Namespaces()...)
}

// continuation answers run and the step commands. A program that already
// ended reports stopped rather than an error.
func continuation(cmd dbgp.Command, target Target, info types.SessionInfo, err error) string {
	switch {
	case errors.HasCode(err, errors.CodeSessionTerminated):
		return statusResponse(cmd, types.SessionStatusStopped, types.ReasonOK).Serialize()
	case err != nil:
		resp := statusResponse(cmd, info.Status, info.Reason)
		e := resp.AddChild(dbgp.NewNode("error").SetAttr("code", strconv.Itoa(codeInternal)))
		e.AddChild(dbgp.NewNode("message").SetCDATA(err.Error()))
		return resp.Serialize()
	}

	resp := statusResponse(cmd, info.Status, info.Reason)
	if info.Status == types.SessionStatusBreak {
		if loc, ok := target.Location(); ok {
			resp.AddChild(dbgp.NewNode("xdebug:message").
				SetAttr("filename", dbgp.FileURI(loc.Filename)).
				SetAttr("lineno", strconv.Itoa(loc.Line)))
		}
	}
	return resp.Serialize()
}
