// Package pipeline executes ordered multi-step generation runs.
//
// Steps run strictly in declaration order because later steps read earlier
// outputs through {var} references. Each step resolves its templated fields,
// binds an adapter to a routed key, calls the provider, and reports the
// outcome back to the router. The first failing step aborts the run; outputs
// written by earlier steps remain visible in the result.
package pipeline
