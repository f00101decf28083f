package vm

import (
	"fmt"

	"github.com/zurustar/ootw/pkg/resource"
)

// ResourceProvider resolves resource ids for the LoadResource opcode.
// *resource.Manager implements it.
type ResourceProvider interface {
	Load(id int) ([]byte, error)
	Descriptor(id int) (resource.Descriptor, error)
}

// StringTable resolves the ids of the DrawString opcode.
type StringTable interface {
	Lookup(id int) (string, bool)
}

// Renderer consumes draw requests, in emission order.
type Renderer interface {
	Draw(req DrawRequest)
}

// Mixer consumes audio requests, in emission order.
type Mixer interface {
	Play(req AudioRequest)
}

// InputProvider is polled once at the start of every frame.
type InputProvider interface {
	Poll() InputState
}

// DrawKind selects the fields of a DrawRequest that are meaningful.
type DrawKind int

const (
	// DrawPolygon: Page, Segment, ResourceID, Offset, X, Y, Zoom.
	DrawPolygon DrawKind = iota
	// DrawBitmap: Page, ResourceID, Data (unpacked 4-plane bitmap).
	DrawBitmap
	// DrawText: Page, StringID, Text, X, Y, Color.
	DrawText
	// DrawPalette: Palette, FadeSpeed, ResourceID, Data (32 bytes).
	DrawPalette
	// DrawFill: Page, Color.
	DrawFill
	// DrawCopy: SrcPage, Page, VScroll.
	DrawCopy
	// DrawPresent: Page is the new front page.
	DrawPresent
)

var drawKindNames = [...]string{"polygon", "bitmap", "text", "palette", "fill", "copy", "present"}

func (k DrawKind) String() string {
	if k >= 0 && int(k) < len(drawKindNames) {
		return drawKindNames[k]
	}
	return fmt.Sprintf("DrawKind(%d)", int(k))
}

// Segment names the polygon data a DrawPolygon request refers to.
type Segment int

const (
	SegmentCinematic Segment = iota
	SegmentVideo2
)

func (s Segment) String() string {
	if s == SegmentVideo2 {
		return "video2"
	}
	return "cinematic"
}

// DrawRequest is an abstract rendering operation. Data, when set, is a
// read-only view of resource bytes.
type DrawRequest struct {
	Kind DrawKind

	Page    int
	SrcPage int

	Segment    Segment
	ResourceID int
	Offset     int
	X, Y       int16
	Zoom       uint16

	Color     uint8
	Palette   int
	FadeSpeed uint8
	VScroll   int16

	StringID int
	Text     string

	Data []byte
}

// AudioKind selects the fields of an AudioRequest that are meaningful.
type AudioKind int

const (
	// AudioPlaySample: ResourceID, Channel, Frequency, Volume.
	AudioPlaySample AudioKind = iota
	// AudioPlayMusic: ResourceID, Delay, Position.
	AudioPlayMusic
	// AudioStopSample: Channel.
	AudioStopSample
	// AudioStopMusic has no parameters.
	AudioStopMusic
	// AudioStopAll has no parameters.
	AudioStopAll
)

var audioKindNames = [...]string{"play-sample", "play-music", "stop-sample", "stop-music", "stop-all"}

func (k AudioKind) String() string {
	if k >= 0 && int(k) < len(audioKindNames) {
		return audioKindNames[k]
	}
	return fmt.Sprintf("AudioKind(%d)", int(k))
}

// AudioRequest is an abstract sound or music trigger.
type AudioRequest struct {
	Kind       AudioKind
	ResourceID int
	Channel    uint8
	Frequency  uint8
	Volume     uint8
	Delay      uint16
	Position   uint8
}

type nopRenderer struct{}

func (nopRenderer) Draw(DrawRequest) {}

type nopMixer struct{}

func (nopMixer) Play(AudioRequest) {}

type nopInput struct{}

func (nopInput) Poll() InputState { return InputState{} }
