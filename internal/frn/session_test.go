package frn

import (
	"fmt"
	"slices"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/pkg/frame"
)

type fakeTransport struct {
	handlers     TransportHandlers
	connected    bool
	connectCalls []string
	disconnects  int
	writes       [][]byte
}

func (transport *fakeTransport) SetHandlers(handlers TransportHandlers) {
	transport.handlers = handlers
}

func (transport *fakeTransport) Connect(host string, port int) {
	transport.connectCalls = append(transport.connectCalls, fmt.Sprintf("%s:%d", host, port))
}

func (transport *fakeTransport) Disconnect() {
	transport.disconnects++
	transport.connected = false
}

func (transport *fakeTransport) IsConnected() bool {
	return transport.connected
}

func (transport *fakeTransport) Write(data []byte) error {
	transport.writes = append(transport.writes, slices.Clone(data))
	return nil
}

// accept simulates the server accepting the connection.
func (transport *fakeTransport) accept() {
	transport.connected = true
	transport.handlers.OnConnected()
}

// fakeCodec compresses by recording the input and stamping each output byte
// with the frame's first sample, so tests can follow frames through packets.
type fakeCodec struct {
	encodedPCM [][]int16
	decodedSrc [][]byte
}

func (codec *fakeCodec) EncodeFrame(pcm []int16, dst []byte) error {
	if len(pcm) != PCMFrameSize || len(dst) != GSMFrameSize {
		return fmt.Errorf("bad frame geometry: %d samples, %d bytes", len(pcm), len(dst))
	}
	codec.encodedPCM = append(codec.encodedPCM, slices.Clone(pcm))
	for i := range dst {
		dst[i] = byte(pcm[0])
	}
	return nil
}

func (codec *fakeCodec) DecodeFrame(src []byte, pcm []int16) error {
	if len(src) != GSMFrameSize || len(pcm) != PCMFrameSize {
		return fmt.Errorf("bad frame geometry: %d bytes, %d samples", len(src), len(pcm))
	}
	codec.decodedSrc = append(codec.decodedSrc, slices.Clone(src))
	for i := range pcm {
		pcm[i] = int16(src[0])
	}
	return nil
}

type recordingSink struct {
	writes []frame.PCMFrame
}

func (sink *recordingSink) WriteSamples(samples frame.PCMFrame) int {
	sink.writes = append(sink.writes, slices.Clone(samples))
	return len(samples)
}

func (sink *recordingSink) FlushSamples() {}

// sessionConfig builds a complete session configuration, leaving out any
// keys named in skip.
func sessionConfig(skip ...string) *viper.Viper {
	values := map[string]any{
		"SERVER":            "frn.example.net",
		"PORT":              10024,
		"EMAIL_ADDRESS":     "op@example.net",
		"DYN_PASSWORD":      "sekret",
		"CALLSIGN_AND_USER": "N0CALL, Pat",
		"CLIENT_TYPE":       "Crosslink gateway",
		"BAND_AND_CHANNEL":  "PMR 07 CTC 12",
		"DESCRIPTION":       "Hilltop node",
		"COUNTRY":           "Germany",
		"CITY_CITY_PART":    "Berlin - Mitte",
		"NET":               "Default",
		"VERSION":           "2.0.2",
	}
	for _, key := range skip {
		delete(values, key)
	}
	cfg := viper.New()
	for key, value := range values {
		cfg.Set(key, value)
	}
	return cfg
}

func newTestSession(t *testing.T, cfg *viper.Viper) (*Session, *fakeTransport, *fakeCodec) {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)
	t.Cleanup(loop.Close)

	transport := &fakeTransport{}
	codec := &fakeCodec{}
	session := NewSession(cfg, loop, transport, codec, nil)
	t.Cleanup(session.Close)
	return session, transport, codec
}

// logIn walks the session through the full handshake.
func logIn(t *testing.T, session *Session, transport *fakeTransport) {
	t.Helper()

	session.Connect()
	transport.accept()
	transport.handlers.OnData([]byte("server greeting"))
	transport.handlers.OnData([]byte("login ok"))
	require.Equal(t, StateLoggedIn, session.State())
}

func TestMissingConfigKeyLeavesSessionUninitialized(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig("DYN_PASSWORD"))
	assert.False(t, session.InitOk())

	session.Connect()
	assert.Empty(t, transport.connectCalls)
	assert.Equal(t, StateDisconnected, session.State())

	// Teardown of a not-initialized session must still be safe.
	session.Disconnect()
	session.Close()
}

func TestLoginHandshake(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	require.True(t, session.InitOk())

	var states []State
	session.OnStateChange = func(state State) { states = append(states, state) }

	session.Connect()
	assert.Equal(t, []string{"frn.example.net:10024"}, transport.connectCalls)

	transport.accept()
	require.Len(t, transport.writes, 1)
	assert.Equal(t,
		"CT:<VX>2.0.2</VX><EA>op@example.net</EA><PW>sekret</PW>"+
			"<ON>N0CALL, Pat</ON><CL>Crosslink gateway</CL>"+
			"<BC>PMR 07 CTC 12</BC><DS>Hilltop node</DS>"+
			"<NN>Germany</NN><CT>Berlin - Mitte</CT><NT>Default</NT>\n",
		string(transport.writes[0]))

	// Both login responses are accepted without validating their content.
	transport.handlers.OnData([]byte("anything"))
	assert.Equal(t, StateLoggingInAck, session.State())
	transport.handlers.OnData([]byte("at all"))
	assert.Equal(t, StateLoggedIn, session.State())

	require.Len(t, transport.writes, 2)
	assert.Equal(t, "RX0\n", string(transport.writes[1]))

	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateLoggingIn,
		StateLoggingInAck, StateLoggedIn,
	}, states)
}

func TestKeepAliveSendsPing(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	written := len(transport.writes)
	session.onKeepAliveTimeout()
	require.Len(t, transport.writes, written+1)
	assert.Equal(t, "P\n", string(transport.writes[written]))
}

func TestWriteSamplesDiscardedBeforeLogin(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	session.Connect()
	transport.accept()

	samples := make(frame.PCMFrame, 2*SendBufferSize)
	assert.Equal(t, len(samples), session.WriteSamples(samples))
	assert.Empty(t, codec.encodedPCM)
}

func TestWriteSamplesBackpressuresUntilTransmitGranted(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	samples := make(frame.PCMFrame, SendBufferSize+100)
	assert.Equal(t, SendBufferSize, session.WriteSamples(samples))
	assert.Empty(t, codec.encodedPCM)

	// A repeated attempt with a full buffer consumes nothing.
	assert.Equal(t, 0, session.WriteSamples(samples))
}

func TestTransmitGrantSendsBufferedVoice(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	resumed := false
	session.OnResumeOutput = func() { resumed = true }

	samples := make(frame.PCMFrame, SendBufferSize+SendBufferSize/2)
	for i := range samples {
		samples[i] = 0.5
	}
	require.Equal(t, SendBufferSize, session.WriteSamples(samples))

	transport.handlers.OnData([]byte{byte(ResponseDoTX)})
	assert.True(t, resumed)

	// Resuming where the producer left off first flushes the buffered
	// superframe, then accumulates the remainder.
	written := len(transport.writes)
	assert.Equal(t, len(samples)-SendBufferSize, session.WriteSamples(samples[SendBufferSize:]))
	require.Len(t, codec.encodedPCM, FrameCount)
	for _, pcm := range codec.encodedPCM {
		assert.Equal(t, int16(16383), pcm[0])
	}

	// The tag goes out bare, the compressed payload right behind it.
	require.Len(t, transport.writes, written+2)
	assert.Equal(t, "TX1", string(transport.writes[written]))
	assert.Len(t, transport.writes[written+1], VoicePacketSize)
}

func TestFlushPadsPartialBufferAndReleasesSlot(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	logIn(t, session, transport)
	transport.handlers.OnData([]byte{byte(ResponseDoTX)})

	flushed := false
	session.OnAllSamplesFlushed = func() { flushed = true }

	samples := make(frame.PCMFrame, 700)
	for i := range samples {
		samples[i] = 1.0
	}
	require.Equal(t, 700, session.WriteSamples(samples))

	written := len(transport.writes)
	session.FlushSamples()
	assert.True(t, flushed)

	require.Len(t, codec.encodedPCM, FrameCount)
	assert.Equal(t, int16(32767), codec.encodedPCM[0][0])
	// Everything past the written samples is silence.
	assert.Equal(t, int16(0), codec.encodedPCM[2][700-2*PCMFrameSize])
	assert.Equal(t, int16(0), codec.encodedPCM[FrameCount-1][PCMFrameSize-1])

	require.Len(t, transport.writes, written+3)
	assert.Equal(t, "TX1", string(transport.writes[written]))
	assert.Len(t, transport.writes[written+1], VoicePacketSize)
	assert.Equal(t, "TX0\n", string(transport.writes[written+2]))

	// The slot was released; the next full buffer blocks again.
	full := make(frame.PCMFrame, SendBufferSize)
	assert.Equal(t, SendBufferSize, session.WriteSamples(full))
	assert.Equal(t, 0, session.WriteSamples(full))
}

func TestFlushWithEmptyBufferStillSignals(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	flushed := false
	session.OnAllSamplesFlushed = func() { flushed = true }

	written := len(transport.writes)
	session.FlushSamples()
	assert.True(t, flushed)
	assert.Len(t, transport.writes, written)
}

func TestSquelchOpenReleasesTransmitSlot(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	written := len(transport.writes)
	session.SquelchOpen(true)
	require.Len(t, transport.writes, written+1)
	assert.Equal(t, "TX0\n", string(transport.writes[written]))

	session.SquelchOpen(false)
	assert.Len(t, transport.writes, written+1)
}

func TestInboundVoicePacketDecodedInOrder(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	sink := &recordingSink{}
	session.Sink = sink

	packet := make([]byte, VoiceHeaderSize+VoicePacketSize)
	packet[0] = byte(ResponseVoiceBuffer)
	for frameNo := 0; frameNo < FrameCount; frameNo++ {
		for i := 0; i < GSMFrameSize; i++ {
			packet[VoiceHeaderSize+frameNo*GSMFrameSize+i] = byte(frameNo + 1)
		}
	}
	transport.handlers.OnData(packet)

	require.Len(t, codec.decodedSrc, FrameCount)
	require.Len(t, sink.writes, FrameCount)
	for frameNo, samples := range sink.writes {
		require.Len(t, samples, PCMFrameSize)
		assert.InDelta(t, float32(frameNo+1)/32768.0, samples[0], 1e-9)
	}
}

func TestShortVoicePacketDropped(t *testing.T) {
	session, transport, codec := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	sink := &recordingSink{}
	session.Sink = sink

	packet := make([]byte, VoiceHeaderSize+VoicePacketSize-1)
	packet[0] = byte(ResponseVoiceBuffer)
	transport.handlers.OnData(packet)

	assert.Empty(t, codec.decodedSrc)
	assert.Empty(t, sink.writes)
	assert.Equal(t, StateLoggedIn, session.State())
}

func TestServerNotificationsAreTolerated(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	for _, tag := range []Response{
		ResponseIdle, ResponseClientList, ResponseTextMessage,
		ResponseNetNames, ResponseAdminList, ResponseAccessList,
		ResponseBlockList, ResponseMuteList, ResponseAccessMode,
		Response(200),
	} {
		transport.handlers.OnData(append([]byte{byte(tag)}, "payload"...))
	}
	assert.Equal(t, StateLoggedIn, session.State())
}

func TestRemoteDisconnectTriggersReconnect(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	transport.connected = false
	transport.handlers.OnDisconnected(ReasonRemoteDisconnected)

	assert.Equal(t, StateConnecting, session.State())
	assert.Len(t, transport.connectCalls, 2)
}

func TestOrderedDisconnectDoesNotReconnect(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	transport.connected = false
	transport.handlers.OnDisconnected(ReasonOrderedDisconnect)

	assert.Equal(t, StateDisconnected, session.State())
	assert.Len(t, transport.connectCalls, 1)
}

func TestHostNotFoundIsFatal(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	session.Connect()
	transport.handlers.OnDisconnected(ReasonHostNotFound)

	assert.Equal(t, StateError, session.State())
	assert.Len(t, transport.connectCalls, 1)
}

func TestReceiveOverflowIsFatal(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	transport.connected = false
	transport.handlers.OnDisconnected(ReasonRecvBufferOverflow)
	assert.Equal(t, StateError, session.State())
}

func TestReconnectGivesUpAfterConfiguredRetries(t *testing.T) {
	cfg := sessionConfig()
	cfg.Set("RECONNECT_RETRIES", 2)
	session, transport, _ := newTestSession(t, cfg)

	session.Connect()
	for i := 0; i < 2; i++ {
		transport.handlers.OnDisconnected(ReasonSystemError)
		assert.Equal(t, StateConnecting, session.State())
	}
	transport.handlers.OnDisconnected(ReasonSystemError)

	assert.Equal(t, StateError, session.State())
	assert.Len(t, transport.connectCalls, 3)
}

func TestSuccessfulConnectResetsRetryCounter(t *testing.T) {
	cfg := sessionConfig()
	cfg.Set("RECONNECT_RETRIES", 1)
	session, transport, _ := newTestSession(t, cfg)

	session.Connect()
	transport.handlers.OnDisconnected(ReasonSystemError)
	require.Equal(t, StateConnecting, session.State())

	// Landing the retry zeroes the counter for the next outage.
	transport.accept()
	transport.connected = false
	transport.handlers.OnDisconnected(ReasonRemoteDisconnected)
	assert.Equal(t, StateConnecting, session.State())
}

func TestConnectTimeoutTearsDownAndRetries(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	session.onConnectTimeout()

	assert.Equal(t, 1, transport.disconnects)
	assert.Equal(t, StateConnecting, session.State())
	assert.Len(t, transport.connectCalls, 2)
}

func TestLocalDisconnectStopsSession(t *testing.T) {
	session, transport, _ := newTestSession(t, sessionConfig())
	logIn(t, session, transport)

	session.Disconnect()
	assert.Equal(t, StateDisconnected, session.State())
	assert.Equal(t, 1, transport.disconnects)
	assert.Len(t, transport.connectCalls, 1)
}
