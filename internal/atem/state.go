package atem

import "github.com/4throck/switcher-client/internal/tally"

const (
	maxMEs         = 8
	maxKeyersPerME = 4
	maxDSKs        = 4
	maxInputs      = 64
)

// Transition mirrors one ME's transition bank.
type Transition struct {
	Style           uint8
	Position        uint16 // 0..10000
	InTransition    bool
	PreviewEnabled  bool
	NextBackground  bool
	NextKeyMask     uint8 // bit i = keyer i selected for next transition
}

// Input is one entry of the ATEM input table.
type Input struct {
	SourceID  uint16
	LongName  string
	ShortName string
}

// State is the full mirrored ATEM device state.
type State struct {
	Connected   bool
	Initialized bool

	SessionID            uint16
	LocalPacketID        uint16 // last outbound packet id we assigned, wrapping
	LastReceivedPacketID uint16
	LastContactMillis    uint32
	LastKeepaliveMillis  uint32

	ProtocolMajor uint16
	ProtocolMinor uint16
	ProductName   string

	NumSources      int
	NumMEs          int
	NumDSKs         int
	NumCameras      int
	NumSuperSources int

	ProgramInput [maxMEs]uint16
	PreviewInput [maxMEs]uint16
	Transitions  [maxMEs]Transition
	NumKeyers    [maxMEs]uint8

	KeyerOnAir [maxMEs][maxKeyersPerME]bool

	DSKOnAir        [maxDSKs]bool
	DSKInTransition [maxDSKs]bool
	DSKTie          [maxDSKs]bool

	SuperSourceFill uint16
	SuperSourceKey  uint16

	Inputs map[uint16]Input

	TallyRaw    [maxInputs]uint8
	TallyPacked uint64

	tallyNeedsUpdate bool

	userCameraLimit      uint8
	cameraOffset         uint8
	effectiveCameraLimit int
}

func newState() *State {
	return &State{
		Inputs:               make(map[uint16]Input),
		effectiveCameraLimit: tally.MaxChannels,
	}
}

// recomputeCameraLimit keeps effectiveCameraLimit in sync; must be
// called whenever userCameraLimit or NumCameras changes.
func (s *State) recomputeCameraLimit() {
	s.effectiveCameraLimit = tally.EffectiveCameraLimit(s.userCameraLimit, s.NumCameras)
}

// recomputeTally repacks TallyPacked from TallyRaw (bit0=program,
// bit1=preview per channel) capped at tally.MaxChannels.
func (s *State) recomputeTally() uint64 {
	var packed uint64
	n := maxInputs
	if n > tally.MaxChannels {
		n = tally.MaxChannels
	}
	for i := 0; i < n; i++ {
		v := tally.State(s.TallyRaw[i] & 3)
		packed = tally.Set(packed, i, v)
	}
	s.TallyPacked = packed
	s.tallyNeedsUpdate = false
	return packed
}
