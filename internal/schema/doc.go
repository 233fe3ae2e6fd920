// Package schema holds the declarative descriptors that drive entity
// validation.
//
// A descriptor declares, per entity type, the profile and data fields with
// their primitive types, which of them are mandatory, numeric bounds,
// enumerations, the per-item rules of list-of-struct fields, and the
// initialization defaults applied when an entity is created. One generic
// routine in the entity package interprets descriptors at runtime; there is
// no per-type code.
//
// The registry is filled at process start (built-in descriptors, then an
// optional override directory) and is read-only afterwards. A malformed
// descriptor yields ErrSchema and the process refuses to start.
package schema
