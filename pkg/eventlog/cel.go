package eventlog

import (
	"github.com/google/cel-go/cel"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// celFilter evaluates a compiled CEL expression against an event's descriptor
// fields. Expressions see string variables: interface, method, protocol,
// protocolPath, recordId, timestamp.
type celFilter struct {
	program cel.Program
}

func compileFilterExpression(expression string) (*celFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("interface", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("protocol", cel.StringType),
		cel.Variable("protocolPath", cel.StringType),
		cel.Variable("recordId", cel.StringType),
		cel.Variable("timestamp", cel.StringType),
	)
	if err != nil {
		return nil, errs.Store(err, "building filter environment")
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errs.Invalid("malformed filter expression: %v", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errs.Invalid("filter expression must evaluate to a boolean")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errs.Invalid("filter expression cannot be planned: %v", err)
	}
	return &celFilter{program: program}, nil
}

// Match is fail-closed: evaluation errors filter the event out.
func (f *celFilter) Match(d *message.Descriptor) bool {
	if d == nil {
		return false
	}
	out, _, err := f.program.Eval(map[string]any{
		"interface":    string(d.Interface),
		"method":       string(d.Method),
		"protocol":     d.Protocol,
		"protocolPath": d.ProtocolPath,
		"recordId":     d.RecordID,
		"timestamp":    d.MessageTimestamp,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
