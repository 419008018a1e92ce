// Package textutil provides identifier sanitization shared by device naming,
// stream paths, and log file names.
//
// SanitizeIdentifier folds diacritics with golang.org/x/text before reducing a
// value to [a-z0-9_], so names derived from vendor strings stay stable and
// safe to use as relay path segments.
package textutil
