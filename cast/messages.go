package cast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Namespaces used by the core (spec.md §6).
const (
	NamespaceDeviceAuth = "urn:x-cast:com.google.cast.tp.deviceauth"
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

// Request is the interface every outbound control message satisfies: a
// writable request id whose round trip through JSON is verified by the
// sender (spec.md §4.6 step 2). Application-specific namespaces passed to
// SendGeneric implement this directly, typically by embedding RequestBase.
type Request interface {
	GetRequestID() int64
	SetRequestID(int64)
}

// RequestBase carries the outbound "type" discriminator and the request id
// every request needs. Concrete requests embed it; callers building a
// Request for an application-specific namespace (SendGeneric) may embed it
// too instead of implementing GetRequestID/SetRequestID by hand.
type RequestBase struct {
	Type      string `json:"type"`
	RequestID int64  `json:"requestId"`
}

func (r *RequestBase) GetRequestID() int64   { return r.RequestID }
func (r *RequestBase) SetRequestID(id int64) { r.RequestID = id }

// ResponseKind discriminates which concrete decode a waiter expects. Callers
// constructing requests for application-specific namespaces pass one of the
// exported constants below to SendGeneric; KindRaw asks for the reply's
// JSON verbatim when no standard shape applies.
type ResponseKind string

const (
	KindStatus          ResponseKind = "STATUS"
	KindAppAvailability ResponseKind = "APP_AVAILABILITY"
	KindMediaStatus     ResponseKind = "MEDIA_STATUS"
	KindRaw             ResponseKind = "RAW"
	KindNone            ResponseKind = ""
)

// Outbound message `type` discriminators.
const (
	typePing               = "PING"
	typePong               = "PONG"
	typeConnect            = "CONNECT"
	typeClose              = "CLOSE"
	typeGetStatus          = "GET_STATUS"
	typeGetAppAvailability = "GET_APP_AVAILABILITY"
	typeLaunch             = "LAUNCH"
	typeStop               = "STOP"
	typeLoad               = "LOAD"
	typePlay               = "PLAY"
	typePause              = "PAUSE"
	typeSeek               = "SEEK"
	typeSetVolume          = "SET_VOLUME"
)

// Inbound `responseType` discriminators.
const (
	responseTypeReceiverStatus = "RECEIVER_STATUS"
	responseTypeMediaStatus    = "MEDIA_STATUS"
	responseTypeLaunchError    = "LAUNCH_ERROR"
	responseTypeLoadFailed     = "LOAD_FAILED"
	responseTypeInvalidRequest = "INVALID_REQUEST"
	responseTypeClose          = "CLOSE"
)

// standardResponseTypes lists every responseType the standard response
// catalogue recognises; a reply whose responseType is not in this set (and
// which carries no requestId) is custom per Channel.java's isCustomMessage.
var standardResponseTypes = map[string]bool{
	responseTypeReceiverStatus: true,
	responseTypeMediaStatus:    true,
	responseTypeLaunchError:    true,
	responseTypeLoadFailed:     true,
	responseTypeInvalidRequest: true,
	responseTypeClose:          true,
	"PING":                     true,
	"PONG":                     true,
}

// --- heartbeat / connection messages (fire-and-forget, no requestId wait) ---

type pingMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type string `json:"type"`
}

func newPingMessage() pingMessage { return pingMessage{Type: typePing} }
func newPongMessage() pongMessage { return pongMessage{Type: typePong} }

type connectMessage struct {
	Type string `json:"type"`
}

func newConnectMessage() connectMessage { return connectMessage{Type: typeConnect} }

// --- receiver namespace requests ---

type getStatusRequest struct {
	RequestBase
}

func newGetStatusRequest() *getStatusRequest {
	return &getStatusRequest{RequestBase{Type: typeGetStatus}}
}

type getAppAvailabilityRequest struct {
	RequestBase
	AppID []string `json:"appId"`
}

func newGetAppAvailabilityRequest(appIDs ...string) *getAppAvailabilityRequest {
	return &getAppAvailabilityRequest{RequestBase{Type: typeGetAppAvailability}, appIDs}
}

type launchRequest struct {
	RequestBase
	AppID string `json:"appId"`
}

func newLaunchRequest(appID string) *launchRequest {
	return &launchRequest{RequestBase{Type: typeLaunch}, appID}
}

type stopRequest struct {
	RequestBase
	SessionID string `json:"sessionId"`
}

func newStopRequest(sessionID string) *stopRequest {
	return &stopRequest{RequestBase{Type: typeStop}, sessionID}
}

type setVolumeRequest struct {
	RequestBase
	Volume Volume `json:"volume"`
}

func newSetVolumeRequest(v Volume) *setVolumeRequest {
	return &setVolumeRequest{RequestBase{Type: typeSetVolume}, v}
}

// --- media namespace requests ---

type loadRequest struct {
	RequestBase
	SessionID   string         `json:"sessionId"`
	Media       Media          `json:"media"`
	Autoplay    bool           `json:"autoplay"`
	CurrentTime float64        `json:"currentTime"`
	CustomData  map[string]any `json:"customData,omitempty"`
}

func newLoadRequest(sessionID string, media Media, autoplay bool, currentTime float64, customData map[string]any) *loadRequest {
	return &loadRequest{RequestBase{Type: typeLoad}, sessionID, media, autoplay, currentTime, customData}
}

// mediaRequest is the shared shape of Play/Pause/Seek: a media session id
// plus the owning session id (StandardRequest.MediaRequest in the original).
type mediaRequest struct {
	RequestBase
	MediaSessionID int64  `json:"mediaSessionId"`
	SessionID      string `json:"sessionId"`
}

type playRequest struct{ mediaRequest }
type pauseRequest struct{ mediaRequest }

func newPlayRequest(sessionID string, mediaSessionID int64) *playRequest {
	return &playRequest{mediaRequest{RequestBase{Type: typePlay}, mediaSessionID, sessionID}}
}

func newPauseRequest(sessionID string, mediaSessionID int64) *pauseRequest {
	return &pauseRequest{mediaRequest{RequestBase{Type: typePause}, mediaSessionID, sessionID}}
}

// ResumeState is the desired player state after a seek completes.
type ResumeState string

const (
	ResumeStatePlaybackStart ResumeState = "PLAYBACK_START"
	ResumeStatePlaybackPause ResumeState = "PLAYBACK_PAUSE"
)

type seekRequest struct {
	mediaRequest
	CurrentTime float64        `json:"currentTime"`
	CustomData  map[string]any `json:"customData,omitempty"`
	ResumeState ResumeState    `json:"resumeState,omitempty"`
}

func newSeekRequest(sessionID string, mediaSessionID int64, currentTime float64, customData map[string]any, resumeState ResumeState) *seekRequest {
	return &seekRequest{
		mediaRequest{RequestBase{Type: typeSeek}, mediaSessionID, sessionID},
		currentTime,
		customData,
		resumeState,
	}
}

// streamVolumeRequest sets the per-stream volume of a media session. Like
// the original's StandardRequest.VolumeRequest, it is deliberately not built
// on RequestBase embedding a MediaRequest shape: its wire `type` is
// "SET_VOLUME", the same discriminator the receiver-level setVolumeRequest
// uses, so it cannot be a StandardRequest subtype without colliding in a
// type-keyed decode. The two are disambiguated by namespace, not by type.
type streamVolumeRequest struct {
	RequestBase
	SessionID      string         `json:"sessionId"`
	MediaSessionID int64          `json:"mediaSessionId"`
	Volume         Volume         `json:"volume"`
	CustomData     map[string]any `json:"customData,omitempty"`
}

func newStreamVolumeRequest(sessionID string, mediaSessionID int64, volume Volume, customData map[string]any) *streamVolumeRequest {
	return &streamVolumeRequest{RequestBase{Type: typeSetVolume}, sessionID, mediaSessionID, volume, customData}
}

// stopMediaRequest stops and unloads a media session. Its wire `type` is
// "STOP", colliding with the receiver-level stopRequest's discriminator for
// the same reason as streamVolumeRequest above.
type stopMediaRequest struct {
	RequestBase
	MediaSessionID int64          `json:"mediaSessionId"`
	CustomData     map[string]any `json:"customData,omitempty"`
}

func newStopMediaRequest(mediaSessionID int64, customData map[string]any) *stopMediaRequest {
	return &stopMediaRequest{RequestBase{Type: typeStop}, mediaSessionID, customData}
}

// getMediaStatusRequest reuses the GET_STATUS discriminator in the media
// namespace, the same way the receiver namespace does; an absent
// mediaSessionId asks for every session's status.
type getMediaStatusRequest struct {
	RequestBase
	MediaSessionID *int64 `json:"mediaSessionId,omitempty"`
}

func newGetMediaStatusRequest(mediaSessionID *int64) *getMediaStatusRequest {
	return &getMediaStatusRequest{RequestBase{Type: typeGetStatus}, mediaSessionID}
}

// --- responses ---

type responseBase struct {
	ResponseType string `json:"responseType"`
	RequestID    int64  `json:"requestId"`
}

// StatusResponse carries a receiver Status.
type StatusResponse struct {
	responseBase
	Status Status `json:"status"`
}

// AppAvailabilityResponse maps requested app ids to availability strings;
// IsAppAvailable checks for the literal "APP_AVAILABLE" value.
type AppAvailabilityResponse struct {
	responseBase
	Availability map[string]string `json:"availability"`
}

// MediaStatusResponse tolerantly decodes zero, one, or several per-session
// statuses, mirroring MediaStatusResponseDeserializer.java's handling of the
// original's "status" array.
type MediaStatusResponse struct {
	responseBase
	Statuses []MediaStatus `json:"status"`
}

// FirstStatus returns the first media status, or nil if none were reported —
// equivalent to `status.getStatuses().isEmpty() ? null : ...get(0)` in
// Channel.java's load/play/pause/seek/getMediaStatus call sites.
func (r *MediaStatusResponse) FirstStatus() *MediaStatus {
	if len(r.Statuses) == 0 {
		return nil
	}
	return &r.Statuses[0]
}

// InvalidResponse is the receiver's INVALID_REQUEST reply.
type InvalidResponse struct {
	responseBase
	Reason string `json:"reason"`
}

// LoadFailedResponse is the receiver's LOAD_FAILED reply.
type LoadFailedResponse struct {
	responseBase
}

// LaunchErrorResponse is the receiver's LAUNCH_ERROR reply.
type LaunchErrorResponse struct {
	responseBase
	Reason string `json:"reason"`
}

// UnknownResponse models a reply with an unrecognised discriminator and its
// raw JSON. The Channel never constructs one: such messages reach the
// listener as a SpontaneousEvent carrying the raw JSON.
type UnknownResponse struct {
	responseBase
	Raw json.RawMessage
}

// RawResponse is what SendGeneric returns for KindRaw: the reply's full JSON
// alongside its parsed responseType/requestId, for application-specific
// namespaces the standard response catalogue doesn't model.
type RawResponse struct {
	responseBase
	Raw json.RawMessage
}

// rewriteTypeKey replaces the first occurrence of the literal key "type"
// with "responseType" in raw inbound JSON. The remote echoes `type` in
// responses; the client's decoding model needs a distinct discriminator so
// request- and response-shaped objects never collide (spec.md §4.4).
func rewriteTypeKey(raw string) string {
	return strings.Replace(raw, `"type"`, `"responseType"`, 1)
}

// peekResponseType reads just responseType/requestId off a rewritten JSON
// payload without committing to a concrete decode target.
func peekResponseType(raw []byte) (responseType string, requestID int64, hasRequestID bool) {
	var probe struct {
		ResponseType string `json:"responseType"`
		RequestID    *int64 `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", 0, false
	}
	if probe.RequestID != nil {
		return probe.ResponseType, *probe.RequestID, true
	}
	return probe.ResponseType, 0, false
}

// decodeResponse decodes raw (already rewritten to use responseType) as the
// concrete type matching the waiter's expected kind, translating the
// receiver's three standard error replies into typed errors the caller of
// send_request sees (spec.md §4.6, §7).
func decodeResponse(kind ResponseKind, raw []byte) (any, error) {
	responseType, _, _ := peekResponseType(raw)

	switch responseType {
	case responseTypeInvalidRequest:
		var r InvalidResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return nil, &BadRequestError{Reason: r.Reason}
	case responseTypeLoadFailed:
		return nil, ErrMediaLoadFailed
	case responseTypeLaunchError:
		var r LaunchErrorResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return nil, &LaunchError{Reason: r.Reason}
	}

	switch kind {
	case KindStatus:
		var r StatusResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindAppAvailability:
		var r AppAvailabilityResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindMediaStatus:
		var r MediaStatusResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindRaw:
		var r RawResponse
		if err := json.Unmarshal(raw, &r.responseBase); err != nil {
			return nil, err
		}
		r.Raw = append(json.RawMessage(nil), raw...)
		return &r, nil
	default:
		return nil, fmt.Errorf("cast: no decoder registered for response kind %q", kind)
	}
}

// isCustomMessage mirrors Channel.java's isCustomMessage: a message with no
// recognised responseType among the standard catalogue AND no requestId is
// an application-custom string event (spec.md §4.4 dispatcher step 2).
func isCustomMessage(responseType string, hasRequestID bool) bool {
	if standardResponseTypes[responseType] {
		return false
	}
	return !hasRequestID
}

// isAppAvailable checks a single app id's availability, matching the literal
// comparison Channel.java performs.
func isAppAvailable(resp *AppAvailabilityResponse, appID string) bool {
	if resp == nil {
		return false
	}
	return resp.Availability[appID] == "APP_AVAILABLE"
}

