// Package sources turns raw data source declarations into executable
// request descriptors.
//
// The package defines the Parser interface, which normalises the entries of
// a config.DataSource into Descriptor values: a resolved URI, method,
// params, headers, transport extras and the materialised per-item handler.
//
// Architecture:
//   - Descriptor: the executable form of one source, consumed by the batch executor
//   - Options: request options; Clone gives hooks a private deep copy
//   - Parser: pure, repeatable normalisation of raw entries
//
// The default parser accepts "url" as an alias of "uri" and resolves option
// values written as {type: JSExpression, value: <gjson path>} against the
// parser's scope, so that a document can refer to host state without
// executing code.
package sources
