// Package schema defines the structure definition model: named, versioned
// schema documents whose root is an object of typed fields.
//
// A schema document is a plain JSON/YAML map. Parse turns it into a
// validated Definition; the Definition's scalar root fields determine the
// projection columns of the structure's physical table (see MapType).
//
// Self-referential schemas are supported through the "$self" type token,
// which points back to the structure's root object. Traversal of a
// Definition is always bounded by the MaxDepth it was parsed with.
package schema
