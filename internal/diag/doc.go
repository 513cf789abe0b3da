// Package diag defines the diagnostic model shared by all lowering passes.
//
// # Purpose
//
//   - Provide deterministic data structures that capture user facing findings
//     produced while lowering a module: missing entry points, oversized
//     constant buffers, functions the structurizer had to leave alone.
//   - Offer light-weight utilities (Reporter, Bag) that let passes emit
//     diagnostics without coupling to concrete storage or formatting layers.
//
// # Two tiers
//
// Violations of the input contract (a malformed HL module handed over by the
// front end) are programmer errors and panic with a descriptive message.
// Everything a shader author can cause goes through a Reporter and the pass
// carries on with sibling functions.
//
// # Data model
//
// Diagnostic is the central record. It contains:
//
//   - Severity: Info, Warning or Error, defined in severity.go.
//   - Code: compact numeric identifier (see codes.go) with a stable string form.
//   - Message: human oriented text; keep it short and actionable.
//   - Primary: the Loc (file, function, block) the finding is about.
//   - Notes: optional secondary locations for additional context.
//
// # Emitting diagnostics
//
// Passes construct a ReportBuilder via ReportError/ReportWarning/ReportInfo,
// chain WithNote and call Emit. BagReporter aggregates into a Bag, which
// supports sorting and deduplication; DedupReporter filters repeats on the fly;
// FileReporter stamps the module path onto locations produced by passes that
// only see functions.
package diag
