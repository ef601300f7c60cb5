package switcher

import (
	"errors"
	"strings"
	"time"

	"github.com/4throck/switcher-client/internal/atem"
	"github.com/4throck/switcher-client/internal/obs"
	"github.com/4throck/switcher-client/internal/platform"
	"github.com/4throck/switcher-client/internal/tally"
	"github.com/4throck/switcher-client/internal/vmix"
)

const (
	defaultATEMPort = 9910
	defaultVMixPort = 8099
	defaultOBSPort  = 4455
)

// Handle is the opaque switcher handle. Exactly one of the backend
// fields is non-nil, selected by kind.
type Handle struct {
	kind Type
	host string
	port int

	atemClient *atem.Client
	vmixClient *vmix.Client
	obsClient  *obs.Client

	clock platform.Clock

	userCB    Callbacks
	prevTally uint64
	debug     bool
}

// Create builds a handle for the given backend type. Port 0 selects
// the backend's default.
func Create(kind Type, host string, port int, password string) (*Handle, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, newError(InvalidParam, "switcher: empty host")
	}

	h := &Handle{kind: kind, host: host, clock: platform.RealClock{}}

	switch kind {
	case TypeATEM:
		if port == 0 {
			port = defaultATEMPort
		}
		h.port = port
		h.atemClient = atem.New(platform.RealDialer{}, h.clock, host, port)
		h.wireATEM()

	case TypeVMix:
		if port == 0 {
			port = defaultVMixPort
		}
		h.port = port
		h.vmixClient = vmix.New(platform.RealDialer{}, h.clock, host, port)
		h.wireVMix()

	case TypeOBS:
		if port == 0 {
			port = defaultOBSPort
		}
		h.port = port
		h.obsClient = obs.New(platform.RealDialer{}, h.clock, host, port, password)
		h.wireOBS()

	case TypeOSEE:
		return nil, ErrNotSupported

	default:
		return nil, newError(InvalidParam, "switcher: unknown switcher type %d", kind)
	}

	return h, nil
}

// wire* register the facade's internal callback adapters with each
// backend. Backends only know about these raw callbacks, never about
// user callbacks directly.

func (h *Handle) wireATEM() {
	h.atemClient.SetCallbacks(atem.Callbacks{
		OnConnected:    func() { h.fireConnected() },
		OnDisconnected: func() { h.fireDisconnected() },
		OnTallyChanged: func(packed uint64) { h.maybeFireTally(packed) },
		OnStateChanged: func(name string) { h.fireStateChanged(name) },
	})
}

func (h *Handle) wireVMix() {
	h.vmixClient.SetCallbacks(vmix.Callbacks{
		OnConnected:    func() { h.fireConnected() },
		OnDisconnected: func() { h.fireDisconnected() },
		OnTallyChanged: func(packed uint64) { h.maybeFireTally(packed) },
		OnStateChanged: func(name string) { h.fireStateChanged(name) },
	})
}

func (h *Handle) wireOBS() {
	h.obsClient.SetCallbacks(obs.Callbacks{
		OnConnected:    func() { h.fireConnected() },
		OnDisconnected: func() { h.fireDisconnected() },
		OnTallyChanged: func(packed uint64) { h.maybeFireTally(packed) },
		OnStateChanged: func(name string) { h.fireStateChanged(name) },
		OnSceneChanged: func() { h.fireStateChanged("SceneListChanged") },
	})
}

func (h *Handle) fireConnected() {
	if h.userCB.OnConnected != nil {
		h.userCB.OnConnected()
	}
}

func (h *Handle) fireDisconnected() {
	if h.userCB.OnDisconnected != nil {
		h.userCB.OnDisconnected()
	}
}

func (h *Handle) fireStateChanged(name string) {
	if h.userCB.OnStateChanged != nil {
		h.userCB.OnStateChanged(name)
	}
}

// maybeFireTally fires OnTallyChanged only when the packed value
// differs from the last one reported for this handle.
func (h *Handle) maybeFireTally(packed uint64) {
	if packed == h.prevTally {
		return
	}
	h.prevTally = packed
	if h.userCB.OnTallyChanged != nil {
		h.userCB.OnTallyChanged(packed)
	}
}

func (h *Handle) SetCallbacks(cb Callbacks) { h.userCB = cb }

func (h *Handle) SetDebug(v bool) {
	h.debug = v
	switch h.kind {
	case TypeATEM:
		h.atemClient.SetDebug(v)
	case TypeVMix:
		h.vmixClient.SetDebug(v)
	case TypeOBS:
		h.obsClient.SetDebug(v)
	}
}

func (h *Handle) GetType() Type { return h.kind }

// --- connection lifecycle ---

// wrapErr maps a backend error onto the facade's taxonomy: timeouts
// become Timeout, OBS's not-in-studio-mode and scene-index errors
// become InvalidParam, everything else IoError. Already-typed errors
// pass through unchanged.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, atem.ErrConnectTimeout) || errors.Is(err, obs.ErrConnectTimeout) {
		return &Error{Kind: Timeout, Msg: err.Error()}
	}
	if errors.Is(err, obs.ErrNotStudioMode) || errors.Is(err, obs.ErrSceneIndex) {
		return &Error{Kind: InvalidParam, Msg: err.Error()}
	}
	if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
		return &Error{Kind: Timeout, Msg: err.Error()}
	}
	return &Error{Kind: IoError, Msg: err.Error()}
}

func (h *Handle) Connect(timeout time.Duration) error {
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.Connect(timeout))
	case TypeVMix:
		return wrapErr(h.vmixClient.Connect(timeout))
	case TypeOBS:
		return wrapErr(h.obsClient.Connect(timeout))
	}
	return ErrNotSupported
}

func (h *Handle) ConnectStart() error {
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.ConnectStart())
	case TypeVMix:
		return wrapErr(h.vmixClient.ConnectStart())
	case TypeOBS:
		return wrapErr(h.obsClient.ConnectStart())
	}
	return ErrNotSupported
}

func (h *Handle) ConnectCheck() (bool, error) {
	switch h.kind {
	case TypeATEM:
		ok, err := h.atemClient.ConnectCheck()
		return ok, wrapErr(err)
	case TypeVMix:
		ok, err := h.vmixClient.ConnectCheck()
		return ok, wrapErr(err)
	case TypeOBS:
		ok, err := h.obsClient.ConnectCheck()
		return ok, wrapErr(err)
	}
	return false, ErrNotSupported
}

func (h *Handle) Disconnect() {
	switch h.kind {
	case TypeATEM:
		h.atemClient.Disconnect()
	case TypeVMix:
		h.vmixClient.Disconnect()
	case TypeOBS:
		h.obsClient.Disconnect()
	}
	h.prevTally = 0
}

func (h *Handle) IsConnected() bool {
	switch h.kind {
	case TypeATEM:
		return h.atemClient.IsConnected()
	case TypeVMix:
		return h.vmixClient.IsConnected()
	case TypeOBS:
		return h.obsClient.IsConnected()
	}
	return false
}

func (h *Handle) IsInitialized() bool {
	switch h.kind {
	case TypeATEM:
		return h.atemClient.IsInitialized()
	case TypeVMix:
		return h.vmixClient.IsInitialized()
	case TypeOBS:
		return h.obsClient.IsInitialized()
	}
	return false
}

// WaitInit polls IsInitialized via Loop, yielding with Sleep(1ms)
// between iterations.
func (h *Handle) WaitInit(timeout time.Duration) error {
	deadline := h.clock.MillisNow() + uint32(timeout.Milliseconds())
	for h.clock.MillisNow() < deadline {
		if h.IsInitialized() {
			return nil
		}
		if err := h.Loop(); err != nil {
			return err
		}
		h.clock.Sleep(time.Millisecond)
	}
	return ErrTimeout
}

// Loop pumps I/O, state, and keepalives for the selected backend.
func (h *Handle) Loop() error {
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.Loop())
	case TypeVMix:
		return wrapErr(h.vmixClient.Loop())
	case TypeOBS:
		return wrapErr(h.obsClient.Loop())
	}
	return ErrNotSupported
}

// --- snapshots ---

func (h *Handle) GetInfo() Info {
	switch h.kind {
	case TypeATEM:
		s := h.atemClient.State()
		return Info{ProductName: s.ProductName, NumCameras: s.NumCameras, NumMEs: s.NumMEs}
	case TypeVMix:
		s := h.vmixClient.State()
		return Info{ProductName: "vMix", NumCameras: s.NumCameras, NumMEs: 1}
	case TypeOBS:
		s := h.obsClient.State()
		return Info{ProductName: "OBS Studio", NumCameras: s.NumScenes, NumMEs: 1}
	}
	return Info{}
}

func (h *Handle) GetState() State {
	switch h.kind {
	case TypeATEM:
		s := h.atemClient.State()
		t := s.Transitions[0]
		return State{
			Connected: s.Connected, Initialized: s.Initialized,
			ProgramInput: int(s.ProgramInput[0]), PreviewInput: int(s.PreviewInput[0]),
			TallyPacked: s.TallyPacked, InTransition: t.InTransition, TransitionPosition: int(t.Position),
		}
	case TypeVMix:
		s := h.vmixClient.State()
		return State{
			Connected: s.Connected, Initialized: h.vmixClient.IsInitialized(),
			ProgramInput: s.ProgramInput, PreviewInput: s.PreviewInput, TallyPacked: s.TallyPacked,
		}
	case TypeOBS:
		s := h.obsClient.State()
		return State{
			Connected: s.Connected, Initialized: s.Initialized,
			ProgramInput: s.ProgramIndex + 1, PreviewInput: s.PreviewIndex + 1, TallyPacked: s.TallyPacked,
		}
	}
	return State{}
}

func (h *Handle) GetProgram() int { return h.GetState().ProgramInput }
func (h *Handle) GetPreview() int { return h.GetState().PreviewInput }

func (h *Handle) GetTallyPacked() uint64 { return h.GetState().TallyPacked }

func (h *Handle) GetTallyByIndex(i int) int {
	packed := h.GetTallyPacked()
	return int((packed >> (uint(i) * 2)) & 3)
}

func (h *Handle) TallyUnpack() (pgm, pvw []int) {
	info := h.GetInfo()
	n := info.NumCameras
	if n <= 0 {
		n = tally.MaxChannels
	}
	return tally.Unpack(h.GetTallyPacked(), n, h.CameraOffset())
}

// --- control ---

func (h *Handle) Cut() error {
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.Cut(0))
	case TypeVMix:
		return wrapErr(h.vmixClient.Cut())
	case TypeOBS:
		s := h.obsClient.State()
		if !s.StudioMode || s.PreviewIndex < 0 {
			return nil
		}
		return wrapErr(h.obsClient.SetProgramScene(s.PreviewIndex + 1))
	}
	return ErrNotSupported
}

func (h *Handle) Auto() error {
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.Auto(0))
	case TypeVMix:
		return wrapErr(h.vmixClient.Auto())
	case TypeOBS:
		return wrapErr(h.obsClient.Auto())
	}
	return ErrNotSupported
}

// SetProgram accepts a 1-based input number for every backend: ATEM
// addresses its numeric source id directly, vMix its 1-based channel
// directly, OBS subtracts 1 to index its scene table.
func (h *Handle) SetProgram(input int) error {
	if input < 1 {
		return newError(InvalidParam, "switcher: input %d out of range", input)
	}
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.SetProgram(0, uint16(input)))
	case TypeVMix:
		return wrapErr(h.vmixClient.SetProgram(input))
	case TypeOBS:
		return wrapErr(h.obsClient.SetProgramScene(input))
	}
	return ErrNotSupported
}

func (h *Handle) SetPreview(input int) error {
	if input < 1 {
		return newError(InvalidParam, "switcher: input %d out of range", input)
	}
	switch h.kind {
	case TypeATEM:
		return wrapErr(h.atemClient.SetPreview(0, uint16(input)))
	case TypeVMix:
		return wrapErr(h.vmixClient.SetPreview(input))
	case TypeOBS:
		return wrapErr(h.obsClient.SetPreviewScene(input))
	}
	return ErrNotSupported
}

// --- camera mapping ---

func (h *Handle) SetCameraLimit(limit uint8) {
	switch h.kind {
	case TypeATEM:
		h.atemClient.SetCameraLimit(limit)
	case TypeVMix:
		h.vmixClient.SetCameraLimit(limit)
	case TypeOBS:
		h.obsClient.SetCameraLimit(limit)
	}
}

func (h *Handle) SetCameraOffset(offset uint8) {
	switch h.kind {
	case TypeATEM:
		h.atemClient.SetCameraOffset(offset)
	case TypeVMix:
		h.vmixClient.SetCameraOffset(offset)
	case TypeOBS:
		h.obsClient.SetCameraOffset(offset)
	}
}

func (h *Handle) CameraLimit() uint8 {
	switch h.kind {
	case TypeATEM:
		return h.atemClient.CameraLimit()
	case TypeVMix:
		return h.vmixClient.CameraLimit()
	case TypeOBS:
		return h.obsClient.CameraLimit()
	}
	return 0
}

func (h *Handle) CameraOffset() uint8 {
	switch h.kind {
	case TypeATEM:
		return h.atemClient.CameraOffset()
	case TypeVMix:
		return h.vmixClient.CameraOffset()
	case TypeOBS:
		return h.obsClient.CameraOffset()
	}
	return 0
}

func (h *Handle) GetEffectiveCameraCount() int {
	switch h.kind {
	case TypeATEM:
		return h.atemClient.EffectiveCameraLimit()
	case TypeVMix:
		return h.vmixClient.EffectiveCameraLimit()
	case TypeOBS:
		return h.obsClient.EffectiveCameraLimit()
	}
	return 0
}

// ATEMClient exposes the ATEM backend for keyer/DSK/SuperSource
// operations the unified vocabulary doesn't cover; callers that need
// them must already know which backend they're driving.
func (h *Handle) ATEMClient() *atem.Client {
	if h.kind != TypeATEM {
		return nil
	}
	return h.atemClient
}

// VMixClient exposes vMix-specific control (overlay in/out, quick
// play, generic FUNCTION) not covered by the unified vocabulary.
func (h *Handle) VMixClient() *vmix.Client {
	if h.kind != TypeVMix {
		return nil
	}
	return h.vmixClient
}

// OBSClient exposes OBS-specific control (studio mode toggle) not
// covered by the unified vocabulary.
func (h *Handle) OBSClient() *obs.Client {
	if h.kind != TypeOBS {
		return nil
	}
	return h.obsClient
}
