package resource

import "fmt"

// Scene lists the resources loaded together when a part of the game starts.
type Scene struct {
	Index     int
	Palette   int
	Code      int
	Cinematic int
	// Video2 is the shared polygon segment, 0 when the scene has none.
	Video2 int
}

// Scenes is the scene table of the game, in play order. Index 0 is the
// copy protection screen and index 8 the password screen.
var Scenes = []Scene{
	{Index: 0, Palette: 0x14, Code: 0x15, Cinematic: 0x16},
	{Index: 1, Palette: 0x17, Code: 0x18, Cinematic: 0x19},
	{Index: 2, Palette: 0x1a, Code: 0x1b, Cinematic: 0x1c, Video2: 0x11},
	{Index: 3, Palette: 0x1d, Code: 0x1e, Cinematic: 0x1f, Video2: 0x11},
	{Index: 4, Palette: 0x20, Code: 0x21, Cinematic: 0x22, Video2: 0x11},
	{Index: 5, Palette: 0x23, Code: 0x24, Cinematic: 0x25},
	{Index: 6, Palette: 0x26, Code: 0x27, Cinematic: 0x28, Video2: 0x11},
	{Index: 7, Palette: 0x29, Code: 0x2a, Cinematic: 0x2b, Video2: 0x11},
	{Index: 8, Palette: 0x7d, Code: 0x7e, Cinematic: 0x7f},
}

// FirstSceneID is the value a script passes to LoadResource to switch to
// scene 0; scene n is requested with FirstSceneID+n.
const FirstSceneID = 0x3e80

// SceneByIndex returns the scene at index.
func SceneByIndex(index int) (Scene, error) {
	if index < 0 || index >= len(Scenes) {
		return Scene{}, fmt.Errorf("scene %d: %w", index, ErrUnknownScene)
	}
	return Scenes[index], nil
}

// Resources returns the ids to require for the scene.
func (s Scene) Resources() []int {
	ids := []int{s.Palette, s.Code, s.Cinematic}
	if s.Video2 != 0 {
		ids = append(ids, s.Video2)
	}
	return ids
}

// Segments holds the resolved resources of a scene.
type Segments struct {
	Palette   []byte
	Code      []byte
	Cinematic []byte
	Video2    []byte
}

// LoadScene evicts the previous scene and loads the resources of s.
func (m *Manager) LoadScene(s Scene) (*Segments, error) {
	m.Evict()
	if err := m.Require(s.Resources()...); err != nil {
		return nil, fmt.Errorf("scene %d: %w", s.Index, err)
	}

	var seg Segments
	var err error
	if seg.Palette, err = m.Resolve(s.Palette); err != nil {
		return nil, fmt.Errorf("scene %d: %w", s.Index, err)
	}
	if seg.Code, err = m.Resolve(s.Code); err != nil {
		return nil, fmt.Errorf("scene %d: %w", s.Index, err)
	}
	if seg.Cinematic, err = m.Resolve(s.Cinematic); err != nil {
		return nil, fmt.Errorf("scene %d: %w", s.Index, err)
	}
	if s.Video2 != 0 {
		if seg.Video2, err = m.Resolve(s.Video2); err != nil {
			return nil, fmt.Errorf("scene %d: %w", s.Index, err)
		}
	}
	m.log.Info("Scene loaded", "scene", s.Index, "code", fmt.Sprintf("0x%02x", s.Code), "bytecode", len(seg.Code))
	return &seg, nil
}
