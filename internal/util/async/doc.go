// Package async runs independent tasks concurrently with a bounded number
// in flight and collects every error.
//
// stackctl uses it to execute several workflow files at once. A failing
// task never cancels the others, since each one rolls back on its own.
package async
