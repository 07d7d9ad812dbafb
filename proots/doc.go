// Package proots maps pRoots records onto content-addressed blocks.
//
// Two record kinds exist. An Annotation is a leaf:
//
//	{"Type": "annotation", "Addr": "...", "From": 20, "End": 25, "Cmt": "..."}
//
// A Sequence links to its annotations by CID, never by value:
//
//	{"Type": "sequence", "Addr": "...", "Seq": "AATCG", "Annots": [<cid>, <cid>]}
//
// Records are immutable once built. Build turns an in-memory record into
// blocks in a storage.CAS and returns the root CID; Resolve walks a root CID
// back into a fully materialized record. Every structural problem is reported
// as a typed error (SchemaError, ValidationError, BuildError, ResolveError)
// and never as a panic.
package proots
