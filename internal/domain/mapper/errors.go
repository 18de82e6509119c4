package mapper

import "errors"

// Sentinel kinds for canonicalization errors. The record-level kinds
// (unmapped, mismatch, conversion, range) skip the offending record and
// never fail a job; ErrLoadTable is a startup failure.
var (
	ErrUnmappedField  = errors.New("unmapped provider field")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrUnitConversion = errors.New("unit conversion failed")
	ErrOutOfRange     = errors.New("value out of plausible range")
	ErrLoadTable      = errors.New("failed to load mapping table")
)
