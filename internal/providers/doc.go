// Package providers implements the fixed set of model invocation adapters and
// the dispatch step that pairs an adapter with a routed key.
//
// Adapters are constructed once from a static table keyed by provider name
// (matched case-insensitively) and hold no per-call state. A call's secret
// travels in its CallConfig; Dispatcher.Bind returns an immutable Binding of
// adapter plus selected key so concurrent calls never share a mutable key
// slot. Each adapter routes a model to a call path with capability.Classify.
//
// Provider HTTP failures are returned as *CallError, classified by status
// (auth, rate_limit, billing, timeout, overloaded, format, unknown) and
// matching services.ErrTransport.
package providers
