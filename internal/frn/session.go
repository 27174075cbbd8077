package frn

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

const (
	keepAliveInterval = 10 * time.Second
	connectionTimeout = 30 * time.Second

	defaultConnectRetries = 5
)

// requiredConfigKeys are read at construction; a missing key leaves the
// session uninitialized and no connection is ever attempted.
var requiredConfigKeys = []string{
	"SERVER",
	"PORT",
	"EMAIL_ADDRESS",
	"DYN_PASSWORD",
	"CALLSIGN_AND_USER",
	"CLIENT_TYPE",
	"BAND_AND_CHANNEL",
	"DESCRIPTION",
	"COUNTRY",
	"CITY_CITY_PART",
	"NET",
	"VERSION",
}

// Session is the FRN session protocol engine.
//
// It owns one TCP connection (through the Transport), drives the
// login/keep-alive/reconnect state machine, and converts between the
// pipeline's audio and the protocol's compressed voice packets. A Session
// runs entirely on the event loop goroutine.
//
// Toward the pipeline the Session is a SampleSink for outbound audio;
// decoded inbound audio goes to Sink, and the control callbacks below tell
// the upstream producer when to resume and when a flush has completed.
type Session struct {
	logger *slog.Logger

	initOk bool
	state  State

	transport Transport
	codec     Codec

	keepAliveTimer  *eventloop.Timer
	conTimeoutTimer *eventloop.Timer

	opts              loginOptions
	maxConnectRetries int
	connectRetryCnt   int

	sendBuffer    [SendBufferSize]int16
	sendBufferCnt int

	isSendingVoice   bool
	isReceivingVoice bool

	// Sink receives decoded inbound audio as ordered PCMFrameSize blocks.
	Sink audio.SampleSink
	// OnStateChange fires on every state transition.
	OnStateChange func(state State)
	// OnResumeOutput fires when the server grants transmission and the
	// upstream producer should start pushing samples again.
	OnResumeOutput func()
	// OnAllSamplesFlushed fires when a FlushSamples request has completed.
	OnAllSamplesFlushed func()
}

// NewSession builds a session engine from the given configuration. Every
// required key must be present or the session reports InitOk false and
// refuses to connect. If logger is nil, slog.Default() is used.
func NewSession(
	cfg *viper.Viper,
	loop *eventloop.Loop,
	transport Transport,
	codec Codec,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	session := &Session{
		logger:    logger.With("frn session uuid", uuid.New()),
		state:     StateDisconnected,
		transport: transport,
		codec:     codec,
	}

	// Timers and transport handlers exist even when validation fails below,
	// so Disconnect and Close are always safe on a not-initialized session.
	transport.SetHandlers(TransportHandlers{
		OnConnected:    session.onConnected,
		OnDisconnected: session.onDisconnected,
		OnData:         session.onDataReceived,
	})
	session.keepAliveTimer = loop.NewTimer(keepAliveInterval, session.onKeepAliveTimeout)
	session.keepAliveTimer.SetEnabled(false)
	session.conTimeoutTimer = loop.NewTimer(connectionTimeout, session.onConnectTimeout)
	session.conTimeoutTimer.SetEnabled(false)

	for _, key := range requiredConfigKeys {
		if !cfg.IsSet(key) {
			session.logger.Error("required config variable not set", "key", key)
			return session
		}
	}
	session.opts = loginOptions{
		Server:          cfg.GetString("SERVER"),
		Port:            cfg.GetInt("PORT"),
		EmailAddress:    cfg.GetString("EMAIL_ADDRESS"),
		DynPassword:     cfg.GetString("DYN_PASSWORD"),
		CallsignAndUser: cfg.GetString("CALLSIGN_AND_USER"),
		ClientType:      cfg.GetString("CLIENT_TYPE"),
		BandAndChannel:  cfg.GetString("BAND_AND_CHANNEL"),
		Description:     cfg.GetString("DESCRIPTION"),
		Country:         cfg.GetString("COUNTRY"),
		CityCityPart:    cfg.GetString("CITY_CITY_PART"),
		Net:             cfg.GetString("NET"),
		Version:         cfg.GetString("VERSION"),
	}
	session.maxConnectRetries = defaultConnectRetries
	if cfg.IsSet("RECONNECT_RETRIES") {
		session.maxConnectRetries = cfg.GetInt("RECONNECT_RETRIES")
	}

	session.initOk = true
	return session
}

// InitOk reports whether construction found every required config variable.
func (session *Session) InitOk() bool {
	return session.initOk
}

// State returns the current session state.
func (session *Session) State() State {
	return session.state
}

// Connect starts a connection attempt to the configured server. The outcome
// arrives asynchronously through the transport handlers.
func (session *Session) Connect() {
	if !session.initOk {
		return
	}
	session.setState(StateConnecting)

	session.logger.Info("connecting", "server", session.opts.Server, "port", session.opts.Port)
	session.transport.Connect(session.opts.Server, session.opts.Port)
}

// Disconnect tears the session down locally. Timers stop immediately; no
// reconnect is attempted.
func (session *Session) Disconnect() {
	session.setState(StateDisconnected)

	session.keepAliveTimer.SetEnabled(false)
	session.conTimeoutTimer.SetEnabled(false)

	if session.transport.IsConnected() {
		session.transport.Disconnect()
	}
}

// Close releases the session's timers. The session must not be used
// afterwards.
func (session *Session) Close() {
	session.keepAliveTimer.Close()
	session.conTimeoutTimer.Close()
}

// WriteSamples accepts normalized samples from the upstream producer and
// returns how many were consumed.
//
// Outside LoggedIn all samples are reported consumed and discarded. While
// logged in, samples accumulate in the send buffer; each time the buffer
// reaches one full superframe it is encoded and transmitted, unless the
// server has not granted transmission, in which case accumulation stops and
// the unconsumed remainder backpressures the producer.
func (session *Session) WriteSamples(samples frame.PCMFrame) int {
	if session.state != StateLoggedIn {
		return len(samples)
	}

	samplesRead := 0
	for samplesRead < len(samples) {
		readCnt := min(SendBufferSize-session.sendBufferCnt, len(samples)-samplesRead)
		samples[samplesRead : samplesRead+readCnt].
			ToPCM16(session.sendBuffer[session.sendBufferCnt : session.sendBufferCnt+readCnt])
		session.sendBufferCnt += readCnt
		samplesRead += readCnt

		if session.sendBufferCnt == SendBufferSize {
			if !session.isSendingVoice {
				break
			}
			session.sendVoiceData()
		}
	}
	return samplesRead
}

// FlushSamples pads any pending partial superframe with silence, transmits
// it, and releases the transmit slot. The flushed signal always fires, even
// when there was nothing to send.
func (session *Session) FlushSamples() {
	if session.state == StateLoggedIn && session.sendBufferCnt > 0 {
		clear(session.sendBuffer[session.sendBufferCnt:])
		session.sendBufferCnt = SendBufferSize

		session.sendVoiceData()
		session.sendRequest(RequestTX0)

		session.isSendingVoice = false
	}
	if session.OnAllSamplesFlushed != nil {
		session.OnAllSamplesFlushed()
	}
}

// SquelchOpen reports the local carrier-detect state. An opening squelch
// releases the transmit slot so the channel is never held while local audio
// is active.
func (session *Session) SquelchOpen(isOpen bool) {
	if isOpen {
		session.sendRequest(RequestTX0)
	}
}

func (session *Session) setState(newState State) {
	if newState == session.state {
		return
	}
	session.logger.Info("session state change", "from", session.state, "to", newState)
	session.state = newState
	if session.OnStateChange != nil {
		session.OnStateChange(newState)
	}
}

func (session *Session) login() {
	session.setState(StateLoggingIn)

	if err := session.transport.Write([]byte(session.opts.loginLine())); err != nil {
		session.logger.Error("failed to send login request", "err", err)
	}
}

func (session *Session) sendRequest(request Request) {
	token := request.token()
	if token == "" {
		session.logger.Error("unknown request", "request", int(request))
		return
	}
	if !session.transport.IsConnected() {
		return
	}
	if err := session.transport.Write([]byte(token + "\n")); err != nil {
		session.logger.Error("failed to send request", "request", token, "err", err)
	}
}

// sendVoiceData encodes the full send buffer into one voice packet and
// transmits it behind a bare TX1 tag. The buffer is empty afterwards.
func (session *Session) sendVoiceData() {
	packet := make([]byte, VoicePacketSize)
	for frameNo := 0; frameNo < FrameCount; frameNo++ {
		pcm := session.sendBuffer[frameNo*PCMFrameSize : (frameNo+1)*PCMFrameSize]
		dst := packet[frameNo*GSMFrameSize : (frameNo+1)*GSMFrameSize]
		if err := session.codec.EncodeFrame(pcm, dst); err != nil {
			session.logger.Error("voice frame encoding failed", "frame", frameNo, "err", err)
			session.sendBufferCnt = 0
			return
		}
	}

	if session.transport.IsConnected() {
		// The TX1 tag is sent bare, immediately followed by the payload.
		if err := session.transport.Write([]byte(RequestTX1.token())); err != nil {
			session.logger.Error("failed to send voice data tag", "err", err)
		}
		if err := session.transport.Write(packet); err != nil {
			session.logger.Error("failed to send voice data", "err", err)
		}
	}
	session.sendBufferCnt = 0
}

func (session *Session) reconnect() {
	session.connectRetryCnt++
	if session.connectRetryCnt <= session.maxConnectRetries {
		session.logger.Info("reconnecting", "attempt", session.connectRetryCnt)
		session.Connect()
		return
	}
	session.logger.Error("giving up reconnecting", "attempts", session.maxConnectRetries)
	session.setState(StateError)
}

// handleAudioData validates and decodes one voice packet. A packet of the
// wrong length is dropped without any state change.
func (session *Session) handleAudioData(data []byte) {
	if len(data) != VoiceHeaderSize+VoicePacketSize {
		session.logger.Warn("dropping voice packet of unexpected length", "len", len(data))
		return
	}
	if session.Sink == nil {
		return
	}

	compressed := data[VoiceHeaderSize:]
	var pcm [PCMFrameSize]int16
	var samples [PCMFrameSize]float32
	for frameNo := 0; frameNo < FrameCount; frameNo++ {
		src := compressed[frameNo*GSMFrameSize : (frameNo+1)*GSMFrameSize]
		if err := session.codec.DecodeFrame(src, pcm[:]); err != nil {
			session.logger.Error("voice frame decoding failed", "frame", frameNo, "err", err)
			return
		}
		frame.PCM16Frame(pcm[:]).ToPCM(samples[:])
		session.Sink.WriteSamples(samples[:])
	}
}

func (session *Session) handleResponse(data []byte) {
	switch Response(data[0]) {
	case ResponseIdle:

	case ResponseDoTX:
		session.isSendingVoice = true
		if session.OnResumeOutput != nil {
			session.OnResumeOutput()
		}

	case ResponseVoiceBuffer:
		session.isReceivingVoice = true
		session.handleAudioData(data)

	case ResponseClientList, ResponseTextMessage, ResponseNetNames,
		ResponseAdminList, ResponseAccessList, ResponseBlockList,
		ResponseMuteList, ResponseAccessMode:
		session.logger.Info("server notification", "tag", int(data[0]), "data", string(data[1:]))

	default:
		session.logger.Warn("unknown server command", "tag", int(data[0]), "data", string(data[1:]))
	}
}

func (session *Session) onConnected() {
	session.setState(StateConnected)

	session.connectRetryCnt = 0
	session.conTimeoutTimer.SetEnabled(true)
	session.login()
}

func (session *Session) onDisconnected(reason DisconnectReason) {
	session.setState(StateDisconnected)

	session.keepAliveTimer.SetEnabled(false)
	session.conTimeoutTimer.SetEnabled(false)

	session.logger.Info("disconnected", "reason", reason)

	switch reason {
	case ReasonRemoteDisconnected, ReasonSystemError:
		session.reconnect()

	case ReasonOrderedDisconnect:

	default:
		// Host-not-found, overflow, and anything unrecognized are not
		// transient; retrying would just fail the same way.
		session.setState(StateError)
	}
}

func (session *Session) onDataReceived(data []byte) {
	if len(data) == 0 {
		return
	}

	// Any inbound traffic counts as proof of liveness.
	session.conTimeoutTimer.Reset()

	switch session.state {
	case StateLoggingIn:
		session.setState(StateLoggingInAck)
		session.logger.Info("server greeting", "data", string(data))

	case StateLoggingInAck:
		session.setState(StateLoggedIn)
		session.keepAliveTimer.SetEnabled(true)
		session.sendRequest(RequestRX0)
		session.logger.Info("server login response", "data", string(data))

	case StateLoggedIn:
		session.handleResponse(data)

	default:
	}
}

func (session *Session) onKeepAliveTimeout() {
	if session.transport.IsConnected() {
		session.sendRequest(RequestPing)
	}
}

func (session *Session) onConnectTimeout() {
	session.logger.Warn("connection timed out without traffic")
	session.Disconnect()
	session.reconnect()
}
