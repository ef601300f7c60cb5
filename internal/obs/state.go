package obs

import "github.com/4throck/switcher-client/internal/tally"

const maxScenes = 20

// Scene is one slot in the mirrored scene table.
type Scene struct {
	Name string
}

// State is the mirrored OBS state.
type State struct {
	Connected     bool
	Authenticated bool
	Initialized   bool

	StudioMode bool

	ProgramIndex int // -1 = unset
	PreviewIndex int
	ProgramName  string
	PreviewName  string

	Scenes    [maxScenes]Scene
	NumScenes int

	TallyPacked uint64

	userCameraLimit      uint8
	cameraOffset         uint8
	effectiveCameraLimit int

	nextRequestID uint32
}

func newState() *State {
	return &State{
		ProgramIndex:         -1,
		PreviewIndex:         -1,
		effectiveCameraLimit: tally.MaxChannels,
	}
}

func (s *State) recomputeCameraLimit() {
	s.effectiveCameraLimit = tally.EffectiveCameraLimit(s.userCameraLimit, s.NumScenes)
}

// recomputeTally repacks the tally: program's index gets Program,
// preview's index gets Preview, unless they're equal — then only
// Program is set.
func (s *State) recomputeTally() uint64 {
	var packed uint64
	if s.ProgramIndex >= 0 && s.ProgramIndex < tally.MaxChannels {
		packed = tally.Set(packed, s.ProgramIndex, tally.Program)
	}
	if s.PreviewIndex >= 0 && s.PreviewIndex < tally.MaxChannels && s.PreviewIndex != s.ProgramIndex {
		packed = tally.Set(packed, s.PreviewIndex, tally.Preview)
	}
	s.TallyPacked = packed
	return packed
}

func (s *State) sceneIndexByName(name string) int {
	for i := 0; i < s.NumScenes; i++ {
		if s.Scenes[i].Name == name {
			return i
		}
	}
	return -1
}
