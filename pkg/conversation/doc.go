// Package conversation owns the message log of one chat session and builds
// the budgeted view that is sent to a provider.
//
// The log is append-only and every mutation is validated, so the stored
// sequence keeps chain integrity: each tool call id in an assistant message
// is answered by exactly one later tool message, and no tool message refers
// to an unknown call. View never mutates the log. When the log exceeds the
// token budget, the message ceiling or the tool-message ceiling, View prunes
// whole call/result pairs, truncates tool output and finally falls back to
// the system prompt plus a recent tail, always widening the tail to a pair
// boundary.
package conversation
