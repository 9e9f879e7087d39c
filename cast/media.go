package cast

import (
	"path/filepath"

	"github.com/ValiantChip/goutils/pointer"
	"github.com/gabriel-vasile/mimetype"
)

// Volume is the receiver or stream volume: both fields are optional on the
// wire (the original's Volume carries a nullable Double level and a
// nullable Boolean muted) so a caller can adjust just one without
// clobbering the other.
type Volume struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

// NewVolumeLevel builds a Volume that only sets the level.
func NewVolumeLevel(level float64) Volume {
	return Volume{Level: pointer.New(level)}
}

// NewVolumeMuted builds a Volume that only sets the muted flag.
func NewVolumeMuted(muted bool) Volume {
	return Volume{Muted: pointer.New(muted)}
}

// LevelOrZero returns the level, defaulting to 0 if unset.
func (v Volume) LevelOrZero() float64 { return pointer.ZeroIfNil(v.Level) }

// MutedOrFalse returns the muted flag, defaulting to false if unset.
func (v Volume) MutedOrFalse() bool { return pointer.ZeroIfNil(v.Muted) }

// Media describes the content passed to Load: a content id (typically a
// URL), its MIME type, and the stream type the receiver should treat it as.
type Media struct {
	ContentID   string         `json:"contentId"`
	ContentType string         `json:"contentType"`
	StreamType  string         `json:"streamType,omitempty"`
	Duration    *float64       `json:"duration,omitempty"`
	CustomData  map[string]any `json:"customData,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Stream type values the receiver recognises for Media.StreamType.
const (
	StreamTypeBuffered = "BUFFERED"
	StreamTypeLive     = "LIVE"
	StreamTypeNone     = "NONE"
)

// LoadFile builds a Media for a local file, sniffing its content type with
// mimetype rather than trusting the extension, and using a file:// style
// content id. Supplements Load with a convenience the distilled spec left
// implicit (original_source's Channel.load(File, ...) overload).
func LoadFile(path string) (Media, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Media{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Media{}, err
	}
	return Media{
		ContentID:   "file://" + filepath.ToSlash(abs),
		ContentType: mt.String(),
		StreamType:  StreamTypeBuffered,
	}, nil
}

// MediaStatus is a single media session's reported state, matching the
// tolerant-decode shape MediaStatusResponseDeserializer.java builds: fields
// the receiver omits stay at their zero value rather than failing decode.
type MediaStatus struct {
	MediaSessionID         int64          `json:"mediaSessionId"`
	PlaybackRate           float64        `json:"playbackRate"`
	PlayerState            string         `json:"playerState"`
	CurrentTime            float64        `json:"currentTime"`
	SupportedMediaCommands int            `json:"supportedMediaCommands"`
	Volume                 Volume         `json:"volume"`
	Media                  *Media         `json:"media,omitempty"`
	CustomData             map[string]any `json:"customData,omitempty"`
	RepeatMode             string         `json:"repeatMode,omitempty"`
	IdleReason             string         `json:"idleReason,omitempty"`
}

// Player state values reported in MediaStatus.PlayerState.
const (
	PlayerStateIdle      = "IDLE"
	PlayerStatePlaying   = "PLAYING"
	PlayerStatePaused    = "PAUSED"
	PlayerStateBuffering = "BUFFERING"
)

// Application is a single running app entry in a receiver Status, as
// reported under Status.Applications.
type Application struct {
	AppID        string         `json:"appId"`
	SessionID    string         `json:"sessionId"`
	TransportID  string         `json:"transportId"`
	DisplayName  string         `json:"displayName,omitempty"`
	StatusText   string         `json:"statusText,omitempty"`
	Namespaces   []AppNamespace `json:"namespaces,omitempty"`
	IsIdleScreen *bool          `json:"isIdleScreen,omitempty"`
}

// AppNamespace is one namespace an Application advertises support for.
type AppNamespace struct {
	Name string `json:"name"`
}

// Status is the receiver's top-level device/session state, returned by
// get_status and echoed as part of most receiver responses.
type Status struct {
	Applications []Application `json:"applications,omitempty"`
	Volume       Volume        `json:"volume"`
	IsActiveInput *bool        `json:"isActiveInput,omitempty"`
	IsStandBy     *bool        `json:"isStandBy,omitempty"`
}

// HasApp reports whether an application with the given id is running,
// mirroring the membership check Channel.java performs before treating a
// session as already started.
func (s *Status) HasApp(appID string) (Application, bool) {
	if s == nil {
		return Application{}, false
	}
	for _, a := range s.Applications {
		if a.AppID == appID {
			return a, true
		}
	}
	return Application{}, false
}
