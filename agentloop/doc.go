// Package agentloop implements a reason/act/observe loop over language model
// providers.
//
// A Controller answers one query per Run call. Each iteration asks the
// selected provider for the next step, executes any requested tool calls in
// order through a ToolInvoker, and records thoughts, actions and observations
// on a per-query Scratchpad. The loop ends when the model answers without
// requesting tools, or when the iteration cap or execution budget is reached,
// in which case a final tool-free call synthesizes an answer from what was
// observed.
//
// Quick start:
//
//	provider, _ := llm.NewGollmProvider("anthropic")
//	client := llm.NewClient(llm.WithProvider(provider))
//
//	tools := agentloop.NewToolRegistry()
//	tools.RegisterFunc("lookup", "Look up a record", schema, lookupFunc)
//
//	ctrl, err := agentloop.NewController(agentloop.DefaultConfig(), client, tools,
//		agentloop.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	result := ctrl.Run(ctx, agentloop.RunInput{Query: "How many open orders?"})
//	fmt.Println(result.FinalText)
//
// Run never returns an error. Provider failures fall back to a second provider
// when exactly one other is available, and otherwise produce a degraded answer
// with StatusFailed.
package agentloop
