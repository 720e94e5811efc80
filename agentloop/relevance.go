package agentloop

import (
	"reflect"
	"strings"
)

// relevanceBanner is rendered into the prompt while a justification is owed.
const relevanceBanner = `<relevance_check>
MANDATORY: before calling any further functions, explain in plain text which of
the search results above are relevant to the query and why. Discard results
that are not relevant.
</relevance_check>`

// gateTriggered reports whether an observation from name with outcome out
// obliges the model to justify the results before proceeding.
func (c Config) gateTriggered(name string, out Outcome) bool {
	return out.OK && c.isSearchClass(name) && !isEmptyResult(out.Value)
}

// gateBlocks reports whether pending tool calls must be refused. Only the
// enforce mode blocks, and only while a justification is still owed.
func (c Config) gateBlocks(pad *Scratchpad) bool {
	return c.RelevanceGate == GateEnforce && pad.RequiresRelevanceCheck()
}

// isEmptyResult treats nil, blank strings and zero-length collections as empty.
func isEmptyResult(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
