// Package events resolves which of a guild's scheduled events a user is
// subscribed to and builds calendar import links for them.
package events
