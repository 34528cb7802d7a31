// Package commands implements the guild configuration operations invoked by
// the chat command surface. Every operation is audited, and errors and panics
// stop at this boundary.
package commands
