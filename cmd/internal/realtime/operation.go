package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"parley/cmd/internal/broker"
	v1 "parley/shared/contracts/realtime/v1"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	// ErrAmbiguousOperation: several operations and no (matching) operation name.
	ErrAmbiguousOperation = errors.New("ambiguous operation")
	// ErrInvalidOperation: the document does not describe one known subscription field.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Operation is a validated subscription request.
type Operation struct {
	Name   string // operation name, may be empty
	Field  string
	Topic  broker.Topic
	ChatID int64 // 0 when the field was not narrowed to a chat
}

type fieldSpec struct {
	topic     broker.Topic
	chatArg   bool
	anonymous bool // may be used without a credential
}

// Root subscription fields.
var fields = map[string]fieldSpec{
	"subscribeToMessages":          {topic: broker.TopicMessages, chatArg: true, anonymous: true},
	"subscribeToGroupChatMetadata": {topic: broker.TopicGroupChats, chatArg: true, anonymous: true},
	"subscribeToTypingStatuses":    {topic: broker.TopicTypingStatuses, chatArg: true},
	"subscribeToAccounts":          {topic: broker.TopicAccounts},
	"subscribeToChats":             {topic: broker.TopicChats},
	"subscribeToOnlineStatuses":    {topic: broker.TopicOnlineStatuses},
}

// AllowsAnonymous reports whether op may be streamed without a credential.
func (op Operation) AllowsAnonymous() bool {
	fd, ok := fields[op.Field]
	return ok && fd.anonymous && op.ChatID > 0
}

// ParseOperation resolves a subscribe payload into exactly one operation.
func ParseOperation(p v1.SubscribePayload) (Operation, error) {
	q := strings.TrimSpace(p.Query)
	if q == "" {
		return Operation{}, fmt.Errorf("%w: empty query", ErrInvalidOperation)
	}
	if len(q) > maxQueryBytes {
		return Operation{}, fmt.Errorf("%w: query too large", ErrInvalidOperation)
	}

	doc, err := parser.ParseQuery(&ast.Source{Name: "subscription", Input: q})
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if len(doc.Operations) == 0 {
		return Operation{}, fmt.Errorf("%w: no operation", ErrInvalidOperation)
	}
	if len(doc.Operations) > 1 && p.OperationName == "" {
		return Operation{}, ErrAmbiguousOperation
	}
	def := doc.Operations.ForName(p.OperationName)
	if def == nil {
		return Operation{}, fmt.Errorf("%w: no operation named %q", ErrAmbiguousOperation, p.OperationName)
	}
	if def.Operation != ast.Subscription {
		return Operation{}, fmt.Errorf("%w: %s is not a subscription", ErrInvalidOperation, def.Operation)
	}
	if len(def.SelectionSet) != 1 {
		return Operation{}, fmt.Errorf("%w: exactly one root field required", ErrInvalidOperation)
	}
	field, ok := def.SelectionSet[0].(*ast.Field)
	if !ok {
		return Operation{}, fmt.Errorf("%w: root selection must be a field", ErrInvalidOperation)
	}
	fd, ok := fields[field.Name]
	if !ok {
		return Operation{}, fmt.Errorf("%w: unknown field %q", ErrInvalidOperation, field.Name)
	}

	op := Operation{Name: def.Name, Field: field.Name, Topic: fd.topic}
	for _, arg := range field.Arguments {
		if arg.Name != "chatId" || !fd.chatArg {
			return Operation{}, fmt.Errorf("%w: unknown argument %q", ErrInvalidOperation, arg.Name)
		}
		raw, err := argValue(def, arg.Value, p.Variables)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: chatId: %v", ErrInvalidOperation, err)
		}
		id, err := toChatID(raw)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: chatId: %v", ErrInvalidOperation, err)
		}
		op.ChatID = id
	}
	return op, nil
}

// argValue resolves v, taking variable defaults from the operation since the
// document is never validated against a schema.
func argValue(def *ast.OperationDefinition, v *ast.Value, vars map[string]any) (any, error) {
	if v != nil && v.Kind == ast.Variable {
		if val, ok := vars[v.Raw]; ok {
			return val, nil
		}
		for _, vd := range def.VariableDefinitions {
			if vd.Variable == v.Raw && vd.DefaultValue != nil {
				return vd.DefaultValue.Value(vars)
			}
		}
		return nil, nil
	}
	return v.Value(vars)
}

// toChatID accepts the shapes a chat id arrives in: GraphQL Int or ID
// literals and JSON numbers or strings from variables. null means "no chat".
func toChatID(v any) (int64, error) {
	var id int64
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		id = x
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.New("not an integer")
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if x >= math.MaxInt64 {
			return 0, errors.New("out of range")
		}
		id = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, err
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, errors.New("not an integer")
		}
		id = n
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if id <= 0 {
		return 0, errors.New("must be positive")
	}
	return id, nil
}
