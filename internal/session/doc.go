// Package session defines the conversation identity used by anonymous
// website visitors.
//
// A visitor has no account and no server-side credential; the only thing
// binding them to a conversation is possession of its id. The id is a
// randomly generated UUIDv4 issued once per browsing session, so the
// package is strict about what it accepts: canonical 36-character
// hyphenated lowercase-or-uppercase UUIDv4 text, nothing else.
//
// Both functions are pure and safe for concurrent use.
package session
