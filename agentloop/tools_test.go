package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echo(_ context.Context, args map[string]any, _ DomainContext) (any, error) {
	return args, nil
}

func TestToolRegistry(t *testing.T) {
	reg := NewToolRegistry()
	reg.RegisterFunc("search", "Search", map[string]any{"type": "object"}, echo)
	reg.RegisterFunc("lookup", "Lookup", nil, echo)

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"lookup", "search"}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "lookup", defs[0].Name)
	assert.Equal(t, "object", defs[1].Parameters["type"])

	require.NotNil(t, reg.Get("search"))
	assert.Nil(t, reg.Get("missing"))

	reg.RegisterFunc("search", "Search v2", nil, echo)
	assert.Equal(t, "Search v2", reg.Get("search").Definition.Description)

}

func TestToolRegistry_Filter(t *testing.T) {
	reg := NewToolRegistry()
	reg.RegisterFunc("a", "", nil, echo)
	reg.RegisterFunc("b", "", nil, echo)
	reg.RegisterFunc("c", "", nil, echo)

	sub := reg.Filter([]string{"a", "c", "missing"})
	assert.Equal(t, []string{"a", "c"}, sub.Names())

	sub.RegisterFunc("d", "", nil, echo)
	assert.Equal(t, 3, reg.Count(), "the filtered registry is independent")
	assert.Nil(t, reg.Get("d"))
}

func TestToolRegistry_Concurrent(t *testing.T) {
	reg := NewToolRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			reg.RegisterFunc(name, "", nil, echo)
			_ = reg.Definitions()
			_ = reg.Get(name)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, reg.Count())
}

func TestParseToolArguments(t *testing.T) {
	args, err := ParseToolArguments(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseToolArguments(json.RawMessage("null"))
	require.NoError(t, err)
	assert.NotNil(t, args)

	args, err = ParseToolArguments(json.RawMessage(`{"path":"a.txt","limit":20,"recursive":true}`))
	require.NoError(t, err)
	path, ok := GetStringArg(args, "path")
	assert.True(t, ok)
	assert.Equal(t, "a.txt", path)
	limit, ok := GetIntArg(args, "limit")
	assert.True(t, ok)
	assert.Equal(t, 20, limit)
	rec, ok := GetBoolArg(args, "recursive")
	assert.True(t, ok)
	assert.True(t, rec)

	_, ok = GetStringArg(args, "limit")
	assert.False(t, ok)
	_, ok = GetIntArg(args, "missing")
	assert.False(t, ok)

	_, err = ParseToolArguments(json.RawMessage(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool arguments")
}

func TestToolInvoker_Outcomes(t *testing.T) {
	reg := NewToolRegistry()
	reg.RegisterFunc("ok", "", nil, func(_ context.Context, _ map[string]any, dc DomainContext) (any, error) {
		return "domain " + dc.DomainID, nil
	})
	reg.RegisterFunc("fail", "", nil, func(context.Context, map[string]any, DomainContext) (any, error) {
		return nil, errors.New("permission denied")
	})
	reg.RegisterFunc("panic", "", nil, func(context.Context, map[string]any, DomainContext) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})

	core, logs := observer.New(zap.DebugLevel)
	inv := NewToolInvoker(reg, zap.New(core), nil)
	dc := DomainContext{DomainID: "acme", RunID: "r1"}
	ctx := context.Background()

	out := inv.Invoke(ctx, "ok", nil, dc)
	assert.True(t, out.OK)
	assert.Equal(t, "domain acme", out.Value)

	out = inv.Invoke(ctx, "fail", nil, dc)
	assert.False(t, out.OK)
	assert.Equal(t, "permission denied", out.Err)

	out = inv.Invoke(ctx, "panic", nil, dc)
	assert.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Err, "tool panic panicked:"))

	out = inv.Invoke(ctx, "nope", nil, dc)
	assert.False(t, out.OK)
	assert.Equal(t, "unknown function: nope", out.Err)

	assert.Equal(t, 3, logs.FilterMessage("tool failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("tool executed").Len())
}

func TestToolInvoker_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reg := NewToolRegistry()
	reg.RegisterFunc("fail", "", nil, func(context.Context, map[string]any, DomainContext) (any, error) {
		return nil, errors.New("nope")
	})

	NewToolInvoker(reg, nil, tp.Tracer("test")).Invoke(context.Background(), "fail", nil, DomainContext{DomainID: "d"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "agentloop.tool", spans[0].Name())
	assert.Equal(t, "nope", spans[0].Status().Description)
}

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 10, TruncateHeadTail))
	assert.Equal(t, "unbounded", TruncateOutput("unbounded", 0, TruncateHead))

	head := TruncateOutput("abcdefghij", 4, TruncateHead)
	assert.True(t, strings.HasPrefix(head, "abcd\n[truncated: 6 characters omitted"))

	ht := TruncateOutput("abcdefghij", 4, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(ht, "ab\n"))
	assert.True(t, strings.HasSuffix(ht, "\nij"))

	// Multi-byte runes are never split.
	out := TruncateOutput("ééééé", 2, TruncateHead)
	assert.True(t, strings.HasPrefix(out, "éé\n"))
}

