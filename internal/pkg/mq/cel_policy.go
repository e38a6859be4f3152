package mq

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// DefaultDeadLetterExpr 与 MaxAttemptsPolicy 等价
const DefaultDeadLetterExpr = "poison || attempt >= max_attempts"

// CELPolicy 用 CEL 表达式描述何时把失败消息送入死信。
// 表达式可使用变量: attempt, max_attempts, topic, error, poison，结果必须是 bool。
type CELPolicy struct {
	program     cel.Program
	maxAttempts int
}

// NewCELPolicy 编译表达式。编译失败在启动阶段暴露，而不是处理消息时。
func NewCELPolicy(expr string, maxAttempts int) (*CELPolicy, error) {
	if expr == "" {
		expr = DefaultDeadLetterExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("attempt", cel.IntType),
		cel.Variable("max_attempts", cel.IntType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("error", cel.StringType),
		cel.Variable("poison", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile dead-letter expression %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("dead-letter expression %q must return bool, got %v", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELPolicy{program: prg, maxAttempts: maxAttempts}, nil
}

// Decide 求值失败时保守地转入死信，避免无限重试
func (p *CELPolicy) Decide(f Failure) Decision {
	out, _, err := p.program.Eval(map[string]any{
		"attempt":      int64(f.Attempt),
		"max_attempts": int64(p.maxAttempts),
		"topic":        f.Topic,
		"error":        errorString(f.Err),
		"poison":       f.Poison(),
	})
	if err != nil {
		return DecisionDeadLetter
	}
	if deadLetter, ok := out.Value().(bool); ok && !deadLetter {
		return DecisionRetry
	}
	return DecisionDeadLetter
}
