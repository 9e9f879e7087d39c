package cast

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	sliceutil "github.com/ValiantChip/goutils/slices"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultPort is the standard Cast v2 control port (spec.md §6).
const DefaultPort = 8009

// DefaultRequestTimeout is applied when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// Config carries the construction inputs for a Channel (spec.md §4.6).
type Config struct {
	Host       string
	Port       int
	RemoteName string
	SenderID   string

	Listener Listener
	Metrics  *Metrics
	Logger   *slog.Logger

	RequestTimeout     time.Duration
	HeartbeatPeriod    time.Duration
	HeartbeatFirstFire time.Duration

	// ReconnectBurst/ReconnectEvery bound how often a lazy auto-reconnect
	// may be attempted, so a caller hammering send_request against a dead
	// device doesn't redial on every call.
	ReconnectBurst int
	ReconnectEvery time.Duration
}

// Channel is the long-lived, bidirectional, multiplexed session described in
// spec.md §1: it owns a single TLS socket, a reader goroutine, a heartbeat
// timer, a request registry, and the set of destinations with an
// established virtual connection. Grounded on
// original_source/.../Channel.java's connect/close/send/high-level-verb
// shape, rebuilt around Go's net/tls and goroutines instead of Java threads.
type Channel struct {
	host       string
	port       int
	remoteName string
	senderID   string

	listener Listener
	metrics  *Metrics
	logger   *slog.Logger

	requestTimeout     time.Duration
	heartbeatPeriod    time.Duration
	heartbeatFirstFire time.Duration
	reconnectLimiter   *rate.Limiter

	registry *requestRegistry

	stateMu sync.Mutex
	state   ConnectionState
	conn    net.Conn
	codec   *frameCodec
	hb      *heartbeat
	rdr     *reader

	subMu       sync.Mutex
	subSessions map[string]bool
}

// NewChannel validates cfg and constructs a Channel in the DISCONNECTED
// state. It does not dial; call Connect to establish the socket.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Host == "" {
		return nil, &ConfigError{Field: "host"}
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "sender-" + uuid.NewString()
	}
	if cfg.RemoteName == "" {
		return nil, &ConfigError{Field: "remote_name"}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = 1
	}
	if cfg.ReconnectEvery <= 0 {
		cfg.ReconnectEvery = 5 * time.Second
	}

	return &Channel{
		host:               cfg.Host,
		port:               cfg.Port,
		remoteName:         cfg.RemoteName,
		senderID:           cfg.SenderID,
		listener:           cfg.Listener,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		requestTimeout:     cfg.RequestTimeout,
		heartbeatPeriod:    cfg.HeartbeatPeriod,
		heartbeatFirstFire: cfg.HeartbeatFirstFire,
		reconnectLimiter:   rate.NewLimiter(rate.Every(cfg.ReconnectEvery), cfg.ReconnectBurst),
		registry:           newRequestRegistry(),
		state:              StateDisconnected,
		subSessions:        make(map[string]bool),
	}, nil
}

func (c *Channel) setState(s ConnectionState) {
	c.state = s
	c.metrics.observeState(s)
}

// IsClosed reports true unless the channel is fully CONNECTED (spec.md §4.6
// is_closed).
func (c *Channel) IsClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state != StateConnected
}

// State returns the current lifecycle state.
func (c *Channel) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// LastPong returns the time of the most recently observed inbound PONG
// (spec.md §4.5: "If PONG, note liveness"), or the zero Time if none has
// arrived yet or the channel isn't connected.
func (c *Channel) LastPong() time.Time {
	c.stateMu.Lock()
	rdr := c.rdr
	c.stateMu.Unlock()
	if rdr == nil {
		return time.Time{}
	}
	return rdr.lastPong()
}

// Connect performs the handshake described in spec.md §4.6: TLS dial, the
// binary device-auth exchange, starting the reader and heartbeat, and the
// receiver-0 CONNECT. It is idempotent: calling it while already CONNECTED
// returns ErrNoOp.
func (c *Channel) Connect() error {
	c.stateMu.Lock()
	if c.state == StateConnected {
		c.stateMu.Unlock()
		return ErrNoOp
	}
	c.setState(StateHandshaking)
	c.stateMu.Unlock()

	conn, err := tls.Dial("tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)), &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // the protocol predates meaningful cert pinning on these devices
	})
	if err != nil {
		c.stateMu.Lock()
		c.setState(StateDisconnected)
		c.stateMu.Unlock()
		return fmt.Errorf("cast: dial %s:%d: %w", c.host, c.port, err)
	}

	codec := newFrameCodec(conn)

	if err := c.authenticate(codec); err != nil {
		conn.Close()
		c.stateMu.Lock()
		c.setState(StateDisconnected)
		c.stateMu.Unlock()
		return err
	}

	c.stateMu.Lock()
	c.conn = conn
	c.codec = codec
	c.stateMu.Unlock()

	rdr := newReader(codec, c.registry, c.listener, c.logger, c.senderID, DefaultReceiverID, c.writeEnvelope)
	resultCh := rdr.run()

	hb := newHeartbeat(c.heartbeatPeriod, c.heartbeatFirstFire, c.writeEnvelope, c.logger)
	hb.start(c.senderID, DefaultReceiverID)

	c.stateMu.Lock()
	c.rdr = rdr
	c.hb = hb
	c.stateMu.Unlock()

	go func() {
		err := <-resultCh
		c.teardown(err, true)
	}()

	c.subMu.Lock()
	c.subSessions = make(map[string]bool)
	c.subMu.Unlock()

	if err := c.sendConnect(DefaultReceiverID); err != nil {
		c.teardown(err, false)
		return err
	}

	c.stateMu.Lock()
	c.setState(StateConnected)
	c.stateMu.Unlock()

	c.listener.OnConnectionState(StateConnected, nil)
	return nil
}

// authenticate performs the single synchronous BINARY exchange of spec.md
// §4.6 step 2-3.
func (c *Channel) authenticate(codec *frameCodec) error {
	env := binaryEnvelope(c.senderID, DefaultReceiverID, NamespaceDeviceAuth, marshalAuthChallenge())
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := codec.writeFrame(payload); err != nil {
		return err
	}

	raw, err := codec.readFrame()
	if err != nil {
		return err
	}

	var reply Envelope
	if err := reply.Unmarshal(raw); err != nil {
		return err
	}

	errorType, hasError, err := authErrorType(reply.PayloadBinary)
	if err != nil {
		return err
	}
	if hasError {
		return &AuthError{Reason: fmt.Sprintf("errorType=%d", errorType)}
	}
	return nil
}

func (c *Channel) sendConnect(destinationID string) error {
	payload, err := json.Marshal(newConnectMessage())
	if err != nil {
		return err
	}
	if err := c.writeEnvelope(stringEnvelope(c.senderID, destinationID, NamespaceConnection, string(payload))); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subSessions[destinationID] = true
	c.subMu.Unlock()
	return nil
}

func (c *Channel) writeEnvelope(env Envelope) error {
	c.stateMu.Lock()
	codec := c.codec
	c.stateMu.Unlock()
	if codec == nil {
		return ErrChannelClosed
	}
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	return codec.writeFrame(payload)
}

// Close tears the channel down: stops the heartbeat and reader, closes the
// socket, cancels every pending waiter with ErrChannelClosed, and clears the
// sub-session set (spec.md §4.6 close()). Idempotent.
func (c *Channel) Close() error {
	return c.teardown(ErrChannelClosed, false)
}

// teardown is shared by the explicit Close() path and the reader's own
// failure path (spec.md §4.4 step 3: an unrecoverable read error must
// itself trigger channel close). readerAlreadyDone is true when called from
// the reader's result watcher, in which case the reader goroutine has
// already exited and must not be waited on again.
func (c *Channel) teardown(reason error, readerAlreadyDone bool) error {
	c.stateMu.Lock()
	if c.state == StateDisconnected || c.state == StateClosing {
		c.stateMu.Unlock()
		return ErrNoOp
	}
	c.setState(StateClosing)
	hb := c.hb
	rdr := c.rdr
	conn := c.conn
	c.hb = nil
	c.rdr = nil
	c.conn = nil
	c.codec = nil
	c.stateMu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if conn != nil {
		conn.Close()
	}
	if rdr != nil && !readerAlreadyDone {
		rdr.Stop()
	}

	waiterErr := reason
	if !errors.Is(reason, ErrChannelClosed) {
		waiterErr = fmt.Errorf("%w: %v", ErrChannelClosed, reason)
	}
	c.registry.cancelAll(waiterErr)

	c.subMu.Lock()
	c.subSessions = make(map[string]bool)
	c.subMu.Unlock()

	c.stateMu.Lock()
	c.setState(StateDisconnected)
	c.stateMu.Unlock()

	c.listener.OnConnectionState(StateDisconnected, reason)
	return nil
}

// reconnectIfNeeded implements the lazy auto-reconnect policy of spec.md
// §5: send_request on a closed channel transparently reconnects.
func (c *Channel) reconnectIfNeeded() error {
	if !c.IsClosed() {
		return nil
	}
	if !c.reconnectLimiter.Allow() {
		return fmt.Errorf("cast: %w: reconnect rate limited", ErrChannelClosed)
	}
	c.metrics.observeReconnect()
	if err := c.Connect(); err != nil && err != ErrNoOp {
		return fmt.Errorf("cast: auto-reconnect failed: %w", err)
	}
	return nil
}

// sendRequest is the unified typed-send primitive (spec.md §4.6
// send_request). expectedKind == KindNone means fire-and-forget.
func (c *Channel) sendRequest(namespace string, req Request, destinationID string, expectedKind ResponseKind) (any, error) {
	if err := c.reconnectIfNeeded(); err != nil {
		c.metrics.observeRequestFailed("reconnect")
		return nil, err
	}

	id := c.registry.allocate()
	req.SetRequestID(id)
	if req.GetRequestID() != id {
		return nil, &InternalError{Reason: "request id did not round-trip"}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	env := stringEnvelope(c.senderID, destinationID, namespace, string(payload))

	if expectedKind == KindNone {
		if err := c.writeEnvelope(env); err != nil {
			c.metrics.observeRequestFailed("write")
			return nil, err
		}
		c.metrics.observeRequestSent()
		return nil, nil
	}

	w, err := c.registry.register(id, expectedKind)
	if err != nil {
		return nil, err
	}
	c.metrics.incPendingRequests()
	defer c.metrics.decPendingRequests()

	if err := c.writeEnvelope(env); err != nil {
		c.registry.deregister(id)
		c.metrics.observeRequestFailed("write")
		return nil, err
	}
	c.metrics.observeRequestSent()

	select {
	case res := <-w.result:
		if res.err != nil {
			c.metrics.observeRequestFailed("response")
			return nil, res.err
		}
		return res.value, nil
	case <-time.After(c.RequestTimeout()):
		c.registry.deregister(id)
		c.metrics.observeRequestFailed("timeout")
		return nil, ErrRequestTimeout
	}
}

// RequestTimeout returns the timeout currently applied to new send_request
// calls.
func (c *Channel) RequestTimeout() time.Duration {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.requestTimeout
}

// SetRequestTimeout changes the timeout applied to send_request calls made
// after this call returns; requests already awaiting a reply keep the
// timeout they started with. Mirrors original_source's
// Channel.setRequestTimeout, guarded by the same mutex as the sub-session
// set per SPEC_FULL.md §4 (independent of the socket-lifecycle state mutex).
func (c *Channel) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.subMu.Lock()
	c.requestTimeout = d
	c.subMu.Unlock()
}

// EnsureSubSession sends a CONNECT control message to destinationID unless
// one has already been sent on this channel lifetime (spec.md §4.6
// ensure_sub_session).
func (c *Channel) EnsureSubSession(destinationID string) error {
	c.subMu.Lock()
	if c.subSessions[destinationID] {
		c.subMu.Unlock()
		return nil
	}
	c.subMu.Unlock()

	if err := c.reconnectIfNeeded(); err != nil {
		return err
	}
	return c.sendConnect(destinationID)
}

// --- high-level verbs (spec.md §4.6) ---

// GetStatus fetches the receiver's current status.
func (c *Channel) GetStatus() (*Status, error) {
	v, err := c.sendRequest(NamespaceReceiver, newGetStatusRequest(), DefaultReceiverID, KindStatus)
	if err != nil {
		return nil, err
	}
	return &v.(*StatusResponse).Status, nil
}

// IsAppAvailable reports whether appID is launchable on the receiver.
func (c *Channel) IsAppAvailable(appID string) (bool, error) {
	v, err := c.sendRequest(NamespaceReceiver, newGetAppAvailabilityRequest(appID), DefaultReceiverID, KindAppAvailability)
	if err != nil {
		return false, err
	}
	return isAppAvailable(v.(*AppAvailabilityResponse), appID), nil
}

// AreAppsAvailable reports whether every one of appIDs is available,
// supplementing the single-app check with the multi-app membership test the
// original distillation omitted.
func (c *Channel) AreAppsAvailable(appIDs ...string) (bool, error) {
	v, err := c.sendRequest(NamespaceReceiver, newGetAppAvailabilityRequest(appIDs...), DefaultReceiverID, KindAppAvailability)
	if err != nil {
		return false, err
	}
	resp := v.(*AppAvailabilityResponse)
	var available []string
	for id, status := range resp.Availability {
		if status == "APP_AVAILABLE" {
			available = append(available, id)
		}
	}
	return sliceutil.ContainsAll(available, appIDs), nil
}

// Launch starts appID as a new receiver session.
func (c *Channel) Launch(appID string) (*Status, error) {
	v, err := c.sendRequest(NamespaceReceiver, newLaunchRequest(appID), DefaultReceiverID, KindStatus)
	if err != nil {
		return nil, err
	}
	return &v.(*StatusResponse).Status, nil
}

// Stop ends the receiver session identified by sessionID.
func (c *Channel) Stop(sessionID string) (*Status, error) {
	v, err := c.sendRequest(NamespaceReceiver, newStopRequest(sessionID), DefaultReceiverID, KindStatus)
	if err != nil {
		return nil, err
	}
	return &v.(*StatusResponse).Status, nil
}

// SetVolume adjusts the receiver's output volume.
func (c *Channel) SetVolume(v Volume) (*Status, error) {
	resp, err := c.sendRequest(NamespaceReceiver, newSetVolumeRequest(v), DefaultReceiverID, KindStatus)
	if err != nil {
		return nil, err
	}
	return &resp.(*StatusResponse).Status, nil
}

// Load starts playback of media in the application session reachable at
// destinationID (its transport id), tagged with the receiver sessionID.
func (c *Channel) Load(destinationID, sessionID string, media Media, autoplay bool, currentTime float64, customData map[string]any) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newLoadRequest(sessionID, media, autoplay, currentTime, customData), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// Play resumes a loaded media session.
func (c *Channel) Play(destinationID, sessionID string, mediaSessionID int64) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newPlayRequest(sessionID, mediaSessionID), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// Pause suspends a loaded media session.
func (c *Channel) Pause(destinationID, sessionID string, mediaSessionID int64) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newPauseRequest(sessionID, mediaSessionID), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// Seek moves playback position, optionally requesting a resume state.
func (c *Channel) Seek(destinationID, sessionID string, mediaSessionID int64, currentTime float64, customData map[string]any, resumeState ResumeState) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newSeekRequest(sessionID, mediaSessionID, currentTime, customData, resumeState), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// SetStreamVolume adjusts a single media session's volume, distinct from
// the receiver-wide SetVolume (original_source's StandardRequest.VolumeRequest).
func (c *Channel) SetStreamVolume(destinationID, sessionID string, mediaSessionID int64, volume Volume, customData map[string]any) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newStreamVolumeRequest(sessionID, mediaSessionID, volume, customData), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// StopMedia stops and unloads a media session without ending the receiver
// session it belongs to (original_source's StandardRequest.StopMedia).
func (c *Channel) StopMedia(destinationID string, mediaSessionID int64, customData map[string]any) (*MediaStatus, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newStopMediaRequest(mediaSessionID, customData), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse).FirstStatus(), nil
}

// GetMediaStatus fetches one (or, with mediaSessionID nil, every) media
// session's status on destinationID.
func (c *Channel) GetMediaStatus(destinationID string, mediaSessionID *int64) (*MediaStatusResponse, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	v, err := c.sendRequest(NamespaceMedia, newGetMediaStatusRequest(mediaSessionID), destinationID, KindMediaStatus)
	if err != nil {
		return nil, err
	}
	return v.(*MediaStatusResponse), nil
}

// SendGeneric forwards an arbitrary request to destinationID/namespace after
// ensuring its sub-session, for application-specific namespaces the core
// does not model (spec.md §4.6 send_generic). req typically embeds
// RequestBase; pass KindRaw as expectedKind to get the reply's JSON back
// uninterpreted (as a *RawResponse), or KindNone for fire-and-forget.
func (c *Channel) SendGeneric(destinationID, namespace string, req Request, expectedKind ResponseKind) (any, error) {
	if err := c.EnsureSubSession(destinationID); err != nil {
		return nil, err
	}
	return c.sendRequest(namespace, req, destinationID, expectedKind)
}
