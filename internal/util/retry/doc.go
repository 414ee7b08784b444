// Package retry provides bounded exponential backoff for remote operations.
//
// [Policy.Execute] runs an operation until it succeeds, the caller-supplied
// [Classifier] reports a permanent failure, the attempt budget is spent, or the
// context deadline passes. Every attempt is recorded in the returned [Result].
package retry
