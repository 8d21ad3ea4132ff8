// Package analyzer provides calculator.Analyzer implementations. Recognition
// itself happens in an external service; this package only speaks to it.
package analyzer
