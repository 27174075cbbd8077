// Package frn implements the client side of the Free Radio Network session
// protocol: a text/binary hybrid over one TCP connection, with a tagged
// login line, single-character control requests, and GSM-compressed voice
// packets.
package frn

import (
	"fmt"
	"strings"
)

// State is the session's position in the login state machine.
//
// The happy path is strictly sequential: Disconnected, Connecting,
// Connected, LoggingIn, LoggingInAck, LoggedIn. Disconnected and Error are
// reachable from anywhere as abort targets; Error is terminal until
// external intervention.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateLoggingIn
	StateLoggingInAck
	StateLoggedIn
	StateError
)

func (state State) String() string {
	switch state {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateLoggingIn:
		return "LOGGING_IN"
	case StateLoggingInAck:
		return "LOGGING_IN_ACK"
	case StateLoggedIn:
		return "LOGGED_IN"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request is an outbound control token.
type Request int

const (
	// RequestRX0 tells the server this client is ready to receive.
	RequestRX0 Request = iota
	// RequestTX0 releases the transmit slot.
	RequestTX0
	// RequestTX1 announces that compressed voice data follows immediately.
	RequestTX1
	// RequestPing is the keep-alive.
	RequestPing
)

func (request Request) token() string {
	switch request {
	case RequestRX0:
		return "RX0"
	case RequestTX0:
		return "TX0"
	case RequestTX1:
		return "TX1"
	case RequestPing:
		return "P"
	default:
		return ""
	}
}

// Response is the single-byte type tag leading every inbound message.
type Response byte

const (
	ResponseIdle Response = iota
	ResponseDoTX
	ResponseVoiceBuffer
	ResponseClientList
	ResponseTextMessage
	ResponseNetNames
	ResponseAdminList
	ResponseAccessList
	ResponseBlockList
	ResponseMuteList
	ResponseAccessMode
)

// Voice packet geometry. The codec frame sizes are protocol constants: a
// WAV49 GSM frame compresses 320 samples to 65 bytes, and the protocol
// always ships five frames per packet.
const (
	// PCMFrameSize is the number of samples in one codec frame.
	PCMFrameSize = 320
	// GSMFrameSize is the compressed size of one codec frame.
	GSMFrameSize = 65
	// FrameCount is the number of codec frames per voice packet.
	FrameCount = 5
	// SendBufferSize is one superframe of samples, the transmit unit.
	SendBufferSize = PCMFrameSize * FrameCount
	// VoicePacketSize is the compressed payload of one voice packet.
	VoicePacketSize = GSMFrameSize * FrameCount
	// VoiceHeaderSize is the tag byte plus two reserved bytes preceding
	// the compressed payload.
	VoiceHeaderSize = 3
)

// loginOptions carries the account and station fields sent in the login
// line. All fields are required.
type loginOptions struct {
	Server          string
	Port            int
	EmailAddress    string
	DynPassword     string
	CallsignAndUser string
	ClientType      string
	BandAndChannel  string
	Description     string
	Country         string
	CityCityPart    string
	Net             string
	Version         string
}

// loginLine renders the tagged login message, newline terminated.
func (opts loginOptions) loginLine() string {
	var line strings.Builder
	line.WriteString("CT:")
	for _, field := range []struct{ tag, value string }{
		{"VX", opts.Version},
		{"EA", opts.EmailAddress},
		{"PW", opts.DynPassword},
		{"ON", opts.CallsignAndUser},
		{"CL", opts.ClientType},
		{"BC", opts.BandAndChannel},
		{"DS", opts.Description},
		{"NN", opts.Country},
		{"CT", opts.CityCityPart},
		{"NT", opts.Net},
	} {
		fmt.Fprintf(&line, "<%s>%s</%s>", field.tag, field.value, field.tag)
	}
	line.WriteString("\n")
	return line.String()
}
