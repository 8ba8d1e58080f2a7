package graph

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var schemaSource string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})

// Config configures the executable schema.
type Config struct {
	Resolvers *Resolver
}

// NewExecutableSchema returns the session schema backed by cfg.Resolvers.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	return &executableSchema{resolvers: cfg.Resolvers}
}

type executableSchema struct {
	resolvers *Resolver
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (e *executableSchema) Complexity(ctx context.Context, typeName, field string, childComplexity int, args map[string]any) (int, bool) {
	return 0, false
}

// Exec runs the validated operation in ctx. Query and mutation root fields
// run in document order; a subscription streams one response per event.
func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	op := opCtx.Operation

	switch op.Operation {
	case ast.Query:
		return graphql.OneShot(e.execRoot(ctx, opCtx, "Query", op.SelectionSet))
	case ast.Mutation:
		return graphql.OneShot(e.execRoot(ctx, opCtx, "Mutation", op.SelectionSet))
	case ast.Subscription:
		return e.execSubscription(ctx, opCtx, op.SelectionSet)
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

func (e *executableSchema) execRoot(ctx context.Context, opCtx *graphql.OperationContext, typeName string, sel ast.SelectionSet) *graphql.Response {
	var (
		data object
		errs gqlerror.List
	)
	for _, f := range graphql.CollectFields(opCtx, sel, []string{typeName}) {
		if f.Name == "__typename" {
			data = append(data, member{f.Alias, typeName})
			continue
		}
		v, err := e.resolveField(ctx, typeName, f.Name, f.ArgumentMap(opCtx.Variables))
		if err != nil {
			errs = append(errs, gqlerror.ErrorPathf(ast.Path{ast.PathName(f.Alias)}, "%s", err))
			data = append(data, member{f.Alias, nil})
			continue
		}
		projected, err := project(opCtx, v, f.Selections, f.Definition.Type)
		if err != nil {
			errs = append(errs, gqlerror.ErrorPathf(ast.Path{ast.PathName(f.Alias)}, "%s", err))
			data = append(data, member{f.Alias, nil})
			continue
		}
		data = append(data, member{f.Alias, projected})
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return graphql.ErrorResponse(ctx, "encode response: %s", err)
	}
	return &graphql.Response{Data: raw, Errors: errs}
}

func (e *executableSchema) execSubscription(ctx context.Context, opCtx *graphql.OperationContext, sel ast.SelectionSet) graphql.ResponseHandler {
	fields := graphql.CollectFields(opCtx, sel, []string{"Subscription"})
	if len(fields) != 1 {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "a subscription must select exactly one field"))
	}
	f := fields[0]
	path := ast.Path{ast.PathName(f.Alias)}

	if f.Name != "sessionEvents" {
		return graphql.OneShot(&graphql.Response{Errors: gqlerror.List{gqlerror.ErrorPathf(path, "unknown subscription %s", f.Name)}})
	}
	events, err := e.resolvers.SessionEvents(ctx, stringArg(f.ArgumentMap(opCtx.Variables), "id"))
	if err != nil {
		return graphql.OneShot(&graphql.Response{Errors: gqlerror.List{gqlerror.ErrorPathf(path, "%s", err)}})
	}

	return func(ctx context.Context) *graphql.Response {
		var ev *SessionEvent
		select {
		case next, ok := <-events:
			if !ok {
				return nil
			}
			ev = next
		case <-ctx.Done():
			return nil
		}
		projected, err := project(opCtx, ev, f.Selections, f.Definition.Type)
		if err != nil {
			return &graphql.Response{Errors: gqlerror.List{gqlerror.ErrorPathf(path, "%s", err)}}
		}
		raw, err := json.Marshal(object{{f.Alias, projected}})
		if err != nil {
			return &graphql.Response{Errors: gqlerror.List{gqlerror.ErrorPathf(path, "%s", err)}}
		}
		return &graphql.Response{Data: raw}
	}
}

// resolveField calls the resolver for one root field.
func (e *executableSchema) resolveField(ctx context.Context, typeName, field string, args map[string]any) (any, error) {
	r := e.resolvers
	switch typeName + "." + field {
	case "Query.sessions":
		return r.Sessions(ctx)
	case "Query.session":
		return r.Session(ctx, stringArg(args, "id"))
	case "Query.stats":
		return r.Stats(ctx)
	case "Mutation.startTree":
		return r.StartTree(ctx, stringArg(args, "mgfDir"), optionalArg(args, "options"))
	case "Mutation.startSpecies":
		return r.StartSpecies(ctx, stringArg(args, "mgfDir"), stringArg(args, "query"), optionalArg(args, "options"))
	case "Mutation.pauseSession":
		return r.PauseSession(ctx, stringArg(args, "id"))
	case "Mutation.resumeSession":
		return r.ResumeSession(ctx, stringArg(args, "id"))
	case "Mutation.stopSession":
		return r.StopSession(ctx, stringArg(args, "id"))
	case "Mutation.removeSession":
		return r.RemoveSession(ctx, stringArg(args, "id"))
	default:
		return nil, fmt.Errorf("no resolver for %s.%s", typeName, field)
	}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func optionalArg(args map[string]any, name string) *string {
	s, ok := args[name].(string)
	if !ok {
		return nil
	}
	return &s
}

// project shapes a resolved value to the selection set: only selected
// fields, under their aliases, in selection order. Go values are converted
// through their JSON encoding, so model json tags must match schema field
// names.
func project(opCtx *graphql.OperationContext, v any, sel ast.SelectionSet, typ *ast.Type) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return selectFields(opCtx, generic, sel, typ.Name()), nil
}

func selectFields(opCtx *graphql.OperationContext, v any, sel ast.SelectionSet, typeName string) any {
	if len(sel) == 0 {
		return v
	}
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = selectFields(opCtx, item, sel, typeName)
		}
		return out
	case map[string]any:
		var out object
		for _, f := range graphql.CollectFields(opCtx, sel, []string{typeName}) {
			if f.Name == "__typename" {
				out = append(out, member{f.Alias, typeName})
				continue
			}
			out = append(out, member{f.Alias, selectFields(opCtx, x[f.Name], f.Selections, f.Definition.Type.Name())})
		}
		return out
	default:
		return v
	}
}

// object is a JSON object that keeps its member order.
type object []member

type member struct {
	key   string
	value any
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
