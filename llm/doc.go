// Package llm is the provider-agnostic model layer used by the reasoning loop.
//
// A Provider exposes one blocking reasoning call (Complete) and reports whether
// it can currently serve requests (Available), which for hosted backends means
// its credentials are present. The Client holds a set of named providers and
// routes requests to them through a middleware chain (retry, rate limiting,
// logging, tracing).
//
// # Quick Start
//
//	openai := llm.NewGollmProvider("openai")
//	anthropic := llm.NewGollmProvider("anthropic")
//	client := llm.NewClient(
//	    llm.WithProvider(openai),
//	    llm.WithProvider(anthropic),
//	    llm.WithMiddleware(llm.Retry(llm.DefaultRetryPolicy())),
//	)
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Provider: "openai",
//	    Messages: []llm.Message{llm.UserMessage("Hello")},
//	})
//
// # Errors
//
// Failures are reported as *Error values classified by Kind. Use IsRetryable
// to decide whether a failure is transient, KindOf to branch on the class, and
// errors.Is with sentinels such as ErrUnavailable.
package llm
