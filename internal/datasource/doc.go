// Package datasource orchestrates declaratively configured data sources.
//
// An Orchestrator owns a Registry with one Entry per configured source id.
// GetInitData loads every source whose isInit flag is the boolean true,
// concurrently, and applies the optional global handler to the aggregated
// result. GetOneSourceData loads a single source on demand with caller
// supplied params and options.
//
// Each load runs the same pipeline: the optional BeforeRequest hook, the
// transport, the optional AfterRequest hook, the per-source data handler and
// finally the registry update. Failures of one source never abort the others.
// The orchestrator imposes no timeout: a hook or transport call that never
// returns keeps its whole batch pending. Callers that need a bound should
// cancel the context they pass in, which the HTTP transport honours.
package datasource
