// Package feature implements the feature collector record kind: one image (or
// video frame) worth of features, held as a tagged union of global float
// vectors (plain or VLAD aggregated) and groups of binary ORB local features.
//
// Importing the package registers the collector codec under CollectorType.
package feature
