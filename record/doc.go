// Package record defines the capabilities an archive needs from the records it
// stores: a binary codec, a comparable identifier and, optionally, access to
// embedded groups of local features.
//
// Concrete record kinds register a Factory under a Type tag. An archive stores
// the tag in its header and resolves the codec once when it is created or
// opened:
//
//	codec, err := record.Lookup(feature.CollectorType, record.IDTypeString)
//
// Identifiers are small comparable values (StringID, Int64ID, UUID) and can be
// used directly as map keys.
package record
