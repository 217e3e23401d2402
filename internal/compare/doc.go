// Package compare holds the value-comparison collaborators behind the
// assertion methods of the harness.
//
// Five primitives cover every assertion operator:
//
//   - Truthy: Go-flavoured truthiness (nil, false, zero numbers, "" and nil
//     references are falsy)
//   - Strict: same dynamic type and ==, identity for reference kinds
//   - Loose: type-coercing equality for scalars
//   - DeepEqual / DeepLooseEqual: structural walks with strict or loose leaves
//
// The deep walks remember every (pointer, pointer, type) pair they have
// entered, so self-referential structures terminate: a pair seen again is
// treated as equal.
//
// Inspect renders a value in a stable, diffable form for diagnostics.
package compare
