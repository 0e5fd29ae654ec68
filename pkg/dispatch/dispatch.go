// Package dispatch executes function-call batches requested by the
// conversation model. Declarations are bound to executors once at load
// time; calls within a batch run concurrently and fail independently.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"go.uber.org/zap"
)

// Builtin is an in-process function handler. Its return value is JSON
// serialized into the tool result.
type Builtin func(ctx context.Context, args map[string]any) (any, error)

// Options configures a Dispatcher.
type Options struct {
	// Metadata is the call metadata consulted by metadata-sourced fields,
	// keyed prefix.suffix.
	Metadata map[string]string
	// Credentials available to rest functions, keyed by name.
	Credentials map[string]Credential
	// Builtins available to builtin functions, keyed by platform key.
	Builtins map[string]Builtin
	Emitter  *progress.Emitter
	// HTTPClient overrides the default resty client, used by tests.
	HTTPClient *resty.Client
}

type executor interface {
	run(ctx context.Context, resolved map[string]any, call agent.ToolCall) agent.ToolResult
}

type boundFunction struct {
	decl Declaration
	exec executor
}

// Dispatcher resolves and executes tool calls for one session.
type Dispatcher struct {
	funcs    map[string]*boundFunction
	metadata map[string]string
	emitter  *progress.Emitter
}

// New binds declarations to executors. Unknown implementation kinds,
// missing builtins, and dangling credential references fail here rather
// than at call time.
func New(decls []Declaration, opts Options) (*Dispatcher, error) {
	emitter := opts.Emitter
	if emitter == nil {
		emitter = progress.NewEmitter()
	}
	d := &Dispatcher{
		funcs:    make(map[string]*boundFunction, len(decls)),
		metadata: opts.Metadata,
		emitter:  emitter,
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = resty.New()
	}

	for _, decl := range decls {
		var exec executor
		switch decl.Implementation {
		case ImplementationStub:
			exec = &stubExecutor{template: decl.Template, emitter: emitter}
		case ImplementationREST:
			var cred *Credential
			if decl.Key != "" {
				c, ok := opts.Credentials[decl.Key]
				if !ok {
					return nil, fmt.Errorf("function %s references unknown credential %q", decl.Name, decl.Key)
				}
				cred = &c
			}
			method := strings.ToUpper(decl.Method)
			if method == "" {
				method = "GET"
			}
			exec = &restExecutor{
				method:  method,
				url:     decl.URL,
				cred:    cred,
				client:  httpClient,
				emitter: emitter,
			}
		case ImplementationBuiltin:
			fn, ok := opts.Builtins[decl.Platform]
			if !ok {
				return nil, fmt.Errorf("function %s references unknown builtin %q", decl.Name, decl.Platform)
			}
			exec = &builtinExecutor{fn: fn}
		default:
			return nil, fmt.Errorf("function %s: unknown implementation %q", decl.Name, decl.Implementation)
		}
		d.funcs[decl.Name] = &boundFunction{decl: decl, exec: exec}
	}
	return d, nil
}

// Execute runs a batch of tool calls concurrently and returns results in
// batch order, one per call. A failing call never aborts its siblings.
func (d *Dispatcher) Execute(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult {
	if len(calls) == 0 {
		return nil
	}
	d.emitter.Emit(progress.FunctionCalls(calls))

	results := make([]agent.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call agent.ToolCall) {
			defer wg.Done()
			results[i] = d.runOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	d.emitter.Emit(progress.FunctionResults(results))
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	bound, ok := d.funcs[call.Name]
	if !ok {
		return errorResult(call, fmt.Errorf("unknown function %q", call.Name))
	}
	resolved, err := d.resolve(&bound.decl, call.Input)
	if err != nil {
		metrics.FunctionCalls.WithLabelValues(string(bound.decl.Implementation), "error").Inc()
		return errorResult(call, err)
	}
	result := bound.exec.run(ctx, resolved, call)
	outcome := "ok"
	if result.Error != "" {
		outcome = "error"
	}
	metrics.FunctionCalls.WithLabelValues(string(bound.decl.Implementation), outcome).Inc()
	return result
}

// resolve produces the effective input map for one call, applying the
// declared source of every field.
func (d *Dispatcher) resolve(decl *Declaration, input map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(decl.InputSchema.Properties))
	for name, field := range decl.InputSchema.Properties {
		switch field.Source {
		case SourceStatic:
			resolved[name] = field.Default
		case SourceMetadata:
			value, ok := d.metadata[field.From]
			if !ok {
				return nil, fmt.Errorf("metadata %q not present on call", field.From)
			}
			resolved[name] = value
		default:
			if value, ok := input[name]; ok {
				resolved[name] = value
			} else if field.Default != nil {
				resolved[name] = field.Default
			} else if field.Required {
				return nil, fmt.Errorf("required field %q missing", name)
			}
		}
	}
	return resolved, nil
}

func errorResult(call agent.ToolCall, err error) agent.ToolResult {
	serialized, _ := json.Marshal(map[string]string{"message": err.Error()})
	return agent.ToolResult{
		ID:     call.ID,
		Name:   call.Name,
		Result: err.Error(),
		Error:  string(serialized),
	}
}

// stubExecutor substitutes resolved inputs into a result template. It
// always succeeds; leftover resolved fields are simply dropped.
type stubExecutor struct {
	template string
	emitter  *progress.Emitter
}

func (e *stubExecutor) run(_ context.Context, resolved map[string]any, call agent.ToolCall) agent.ToolResult {
	result := e.template
	for name, value := range resolved {
		result = strings.ReplaceAll(result, "{"+name+"}", cast.ToString(value))
	}
	// Notify observers as if a backend had handled the call.
	e.emitter.Emit(progress.FunctionNotification(call.Name, resolved))
	return agent.ToolResult{ID: call.ID, Name: call.Name, Result: result}
}

// restExecutor performs an outbound HTTP call. URL placeholders consume
// resolved fields; the remainder travel as query params (GET) or a JSON
// body (everything else).
type restExecutor struct {
	method  string
	url     string
	cred    *Credential
	client  *resty.Client
	emitter *progress.Emitter
}

func (e *restExecutor) run(ctx context.Context, resolved map[string]any, call agent.ToolCall) agent.ToolResult {
	url := e.url
	consumed := make(map[string]bool, len(resolved))
	for name, value := range resolved {
		placeholder := "{" + name + "}"
		if strings.Contains(url, placeholder) {
			url = strings.ReplaceAll(url, placeholder, cast.ToString(value))
			consumed[name] = true
		}
	}

	req := e.client.R().SetContext(ctx)
	headers := map[string]string{}
	if e.cred != nil {
		switch e.cred.Type {
		case CredentialBasic:
			req.SetBasicAuth(e.cred.Username, e.cred.Password)
			headers["Authorization"] = "Basic *"
		case CredentialBearer:
			req.SetAuthToken(e.cred.Token)
			headers["Authorization"] = "Bearer *"
		case CredentialHeader:
			req.SetHeader(e.cred.Header, e.cred.Value)
			headers[e.cred.Header] = "*"
		}
	}

	var body map[string]any
	if e.method == "GET" {
		for name, value := range resolved {
			if !consumed[name] {
				req.SetQueryParam(name, cast.ToString(value))
			}
		}
	} else {
		body = make(map[string]any)
		for name, value := range resolved {
			if !consumed[name] {
				body[name] = value
			}
		}
		req.SetBody(body)
	}

	e.emitter.Emit(progress.RestCallout(url, e.method, body, headers))

	resp, err := req.Execute(e.method, url)
	if err != nil {
		logger.Warn("rest function failed",
			zap.String("function", call.Name),
			zap.String("url", url),
			zap.Error(err))
		return errorResult(call, err)
	}
	if resp.IsError() {
		err := fmt.Errorf("%s returned %s", url, resp.Status())
		return errorResult(call, err)
	}
	return agent.ToolResult{ID: call.ID, Name: call.Name, Result: string(resp.Body())}
}

// builtinExecutor invokes a registered in-process handler.
type builtinExecutor struct {
	fn Builtin
}

func (e *builtinExecutor) run(ctx context.Context, resolved map[string]any, call agent.ToolCall) agent.ToolResult {
	value, err := e.fn(ctx, resolved)
	if err != nil {
		return errorResult(call, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errorResult(call, err)
	}
	return agent.ToolResult{ID: call.ID, Name: call.Name, Result: string(raw)}
}
