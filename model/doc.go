// Package model defines stable boundary types for API layers.
//
// Record identity (canonical block bytes and CIDs) is unaffected by any
// projection. These structs are the only types intended for direct JSON
// serialization by consumers such as the proots CLI.
package model
