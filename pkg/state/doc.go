// Package state defines the persistence-facing contracts of the parameter
// engine and the inheritance resolver built on top of them.
//
// Responsibilities:
//   - Directory answers which organization, program and bank a merchant
//     belongs to. Failures degrade resolution to a merchant-only chain.
//   - OverrideRepository stores overrides. Every write creates a new version
//     and supersedes the previous one, so history stays immutable.
//   - DefinitionRepository stores parameter definitions.
//   - Resolver walks the inheritance chain most specific first and returns
//     the first active override, or the definition default.
//
// Data flow:
//
//	Directory -> InheritanceChain -> OverrideRepository (per level) -> ParameterValue
//
// Concurrency control:
//
//	UpdateParameter takes the version the caller read. A mismatch returns
//	params.ErrVersionConflict and nothing is written; CreateParameter fails the
//	same way when a current row already exists. Callers re-read and retry.
//
// Deterministic keys:
//
//	Key.Identifier() provides a canonical storage key
//	(`bank/b1/maxRefundAmount`) for adapters that need a flat key space.
package state
