// Package auth authenticates staff and registered customers on the chat
// gateway.
//
// Identities arrive as HS256 JWTs minted by the travel-agency web
// application (or by the gateway's mint-token command for operators). A
// token carries the user id, display name, and role set; the gateway never
// handles passwords.
//
// Anonymous visitors carry no token at all. OptionalAuthMiddleware lets
// both kinds of caller share the same endpoints: when a valid token is
// present the Identity rides along on the request context, otherwise the
// request proceeds anonymously and downstream authorization falls back to
// conversation-id possession.
package auth
