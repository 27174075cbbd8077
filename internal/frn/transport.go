package frn

// DisconnectReason classifies why the TCP collaborator lost its connection.
// The session engine decides from the reason alone whether to retry.
type DisconnectReason int

const (
	// ReasonHostNotFound means the server name did not resolve.
	ReasonHostNotFound DisconnectReason = iota
	// ReasonRemoteDisconnected means the peer closed the connection.
	ReasonRemoteDisconnected
	// ReasonSystemError covers socket-level failures.
	ReasonSystemError
	// ReasonRecvBufferOverflow means inbound data outran the consumer.
	ReasonRecvBufferOverflow
	// ReasonOrderedDisconnect is a locally requested teardown.
	ReasonOrderedDisconnect
)

func (reason DisconnectReason) String() string {
	switch reason {
	case ReasonHostNotFound:
		return "host not found"
	case ReasonRemoteDisconnected:
		return "remote disconnected"
	case ReasonSystemError:
		return "system error"
	case ReasonRecvBufferOverflow:
		return "receive buffer overflow"
	case ReasonOrderedDisconnect:
		return "ordered disconnect"
	default:
		return "unknown"
	}
}

// TransportHandlers are the session's callbacks, invoked on the event loop.
type TransportHandlers struct {
	OnConnected    func()
	OnDisconnected func(reason DisconnectReason)
	OnData         func(data []byte)
}

// Transport is the reliable byte stream the session engine runs over.
// Connect is asynchronous: the outcome arrives through the handlers.
type Transport interface {
	SetHandlers(handlers TransportHandlers)
	Connect(host string, port int)
	Disconnect()
	IsConnected() bool
	Write(data []byte) error
}

// Codec is the voice compressor the session engine frames packets with.
// Implementations keep history across calls and must be driven in strict
// transmission order.
type Codec interface {
	// EncodeFrame compresses PCMFrameSize samples into GSMFrameSize bytes.
	EncodeFrame(pcm []int16, dst []byte) error
	// DecodeFrame expands GSMFrameSize bytes into PCMFrameSize samples.
	DecodeFrame(src []byte, pcm []int16) error
}
