// Package parser turns the human-readable output of signal-cli's receive
// and listIdentities commands into domain records.
//
// Parsing is strict: any line that does not fit the grammar inside an open
// envelope, or any receipt/body ambiguity, fails the whole call with a
// *ParseError and no partial result.
package parser
