// Package protocol defines the text wire protocol spoken between the chat
// relay server and its clients: newline-terminated lines of the form
// `<COMMAND>[ <payload>]`, UTF-8 encoded.
package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// Version is announced in the INIT line sent on connect.
const Version = "1.0"

// Commands sent by clients.
const (
	CmdIdent     = "IDENT"
	CmdBroadcast = "BCST"
	CmdPong      = "PONG"
	CmdQuit      = "QUIT"
)

// Commands sent by the server.
const (
	CmdInit       = "INIT"
	CmdOK         = "OK"
	CmdPing       = "PING"
	CmdDisconnect = "DSCN"
)

// Reasons carried by DSCN before the server force-closes a connection.
const (
	ReasonPongTimeout  = "Pong timeout"
	ReasonUnterminated = "Unterminated message"
	ReasonShutdown     = "Server shutting down"
)

// FailCode identifies a coded failure reply.
type FailCode int

const (
	// FailUnknownCommand is sent for an unrecognized command token.
	FailUnknownCommand FailCode = iota
	// FailNameTaken is sent when the requested username is already logged in.
	FailNameTaken
	// FailBadName is sent when the username fails the grammar.
	FailBadName
	// FailNotLoggedIn is sent when a command requires a prior login.
	FailNotLoggedIn
	// FailAlreadyLoggedIn is sent when the connection already has an identity.
	FailAlreadyLoggedIn
	// FailUnexpectedPong is sent for a PONG with no outstanding PING.
	FailUnexpectedPong
)

var failTexts = map[FailCode]string{
	FailUnknownCommand:  "Unknown command",
	FailNameTaken:       "User already logged in",
	FailBadName:         "Username has an invalid format or length",
	FailNotLoggedIn:     "Please log in first",
	FailAlreadyLoggedIn: "User cannot login twice",
	FailUnexpectedPong:  "Pong without ping",
}

// String returns the wire code, e.g. "FAIL02".
func (c FailCode) String() string {
	return fmt.Sprintf("FAIL%02d", int(c))
}

// Message returns the full failure reply line, e.g.
// "FAIL02 Username has an invalid format or length".
func (c FailCode) Message() string {
	return c.String() + " " + failTexts[c]
}

// usernameRe is the username grammar: 3 to 14 ASCII letters, digits, or
// underscores.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,14}$`)

// ValidUsername reports whether name satisfies the username grammar.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// ParseCommand splits a framed line into a command token and its payload.
// The token is the text up to the first space (the whole line if there is
// none); the payload is everything after that single space, empty if absent.
// No validation happens here.
func ParseCommand(line string) (cmd, payload string) {
	cmd, payload, _ = strings.Cut(line, " ")
	return cmd, payload
}

// Init builds the INIT handshake announcement sent on connect.
func Init(welcome string) string {
	return CmdInit + " " + welcome
}

// OKIdent builds the login confirmation for the accepted name.
func OKIdent(name string) string {
	return fmt.Sprintf("%s %s %s", CmdOK, CmdIdent, name)
}

// OKBroadcast builds the sender-side broadcast confirmation carrying the
// original text.
func OKBroadcast(text string) string {
	return fmt.Sprintf("%s %s %s", CmdOK, CmdBroadcast, text)
}

// OKGoodbye builds the QUIT confirmation.
func OKGoodbye() string {
	return CmdOK + " Goodbye"
}

// Broadcast builds the relayed broadcast line delivered to every user other
// than the sender.
func Broadcast(sender, text string) string {
	return fmt.Sprintf("%s %s %s", CmdBroadcast, sender, text)
}

// Disconnect builds the DSCN notice sent immediately before a forced close.
func Disconnect(reason string) string {
	return CmdDisconnect + " " + reason
}
