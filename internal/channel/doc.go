// Package channel decides who may subscribe to a conversation's private
// chat channel.
//
// Two identity models meet here. Anonymous visitors carry no credential
// beyond possession of a conversation id (capability-URL style trust), so
// their grant reduces to exact textual equality between the claimed id and
// the id embedded in the channel name. Authenticated users carry a role
// set: agents and admins bypass the possession check entirely, which is
// what makes takeover possible, while authenticated customers must hold a
// persisted participant association with the conversation.
//
// Authorize is a pure function of explicit inputs returning a plain Grant
// value, so it unit-tests without any framework or network harness.
package channel
