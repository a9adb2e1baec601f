package dsl

// Scope is the variable bindings visible to an expression or condition at
// one point in a procedure's execution: parameter values, Get/Create
// aliases, ForEach loop variables, and Set-assigned locals. Nested blocks
// (If, ForEach) share their parent's Scope rather than forking a copy, so
// a Set inside a block is visible after the block exits.
type Scope map[string]any
