package switcher

import "testing"

func TestCreateRejectsEmptyHost(t *testing.T) {
	h, err := Create(TypeOBS, "", 0, "")
	if h != nil {
		t.Fatalf("expected nil handle for empty host")
	}
	if err == nil {
		t.Fatalf("expected error for empty host")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != InvalidParam {
		t.Fatalf("expected InvalidParam error, got %v", err)
	}
}

func TestCreateRejectsOSEE(t *testing.T) {
	h, err := Create(TypeOSEE, "10.0.0.1", 0, "")
	if h != nil {
		t.Fatalf("expected nil handle for OSEE")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != NotSupported {
		t.Fatalf("expected NotSupported error, got %v", err)
	}
}

func TestCreateATEMDefaultsPort(t *testing.T) {
	h, err := Create(TypeATEM, "10.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.port != defaultATEMPort {
		t.Fatalf("port = %d, want %d", h.port, defaultATEMPort)
	}
	if h.GetType() != TypeATEM {
		t.Fatalf("GetType = %v, want ATEM", h.GetType())
	}
}

func TestCutOnOBSStudioModeUsesPreviewScene(t *testing.T) {
	h, err := Create(TypeOBS, "10.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s := h.obsClient.State()
	s.StudioMode = true
	s.PreviewIndex = 2
	s.NumScenes = 3
	s.Scenes[2].Name = "Cam3"

	// Cut() with no live connection will fail to send, but the
	// preview-index resolution happens before the send attempt, so a
	// send error (not a nil preview skip) confirms the right path ran.
	err = h.Cut()
	if err == nil {
		t.Fatalf("expected send error on a disconnected client")
	}
}

func TestCutOnOBSNonStudioModeIsNoop(t *testing.T) {
	h, _ := Create(TypeOBS, "10.0.0.1", 0, "")
	s := h.obsClient.State()
	s.StudioMode = false

	if err := h.Cut(); err != nil {
		t.Fatalf("Cut should be a no-op outside studio mode, got %v", err)
	}
}

func TestAutoOnOBSWithoutStudioModeIsInvalidParam(t *testing.T) {
	h, _ := Create(TypeOBS, "10.0.0.1", 0, "")

	err := h.Auto()
	serr, ok := err.(*Error)
	if !ok || serr.Kind != InvalidParam {
		t.Fatalf("expected InvalidParam error, got %v", err)
	}
}

func TestSetProgramRejectsZeroInput(t *testing.T) {
	h, _ := Create(TypeVMix, "10.0.0.1", 0, "")

	err := h.SetProgram(0)
	serr, ok := err.(*Error)
	if !ok || serr.Kind != InvalidParam {
		t.Fatalf("expected InvalidParam error, got %v", err)
	}
}

func TestTallyDedupSuppressesRepeatedCallback(t *testing.T) {
	h, _ := Create(TypeATEM, "10.0.0.1", 0, "")
	calls := 0
	h.SetCallbacks(Callbacks{OnTallyChanged: func(uint64) { calls++ }})

	h.maybeFireTally(0b11)
	h.maybeFireTally(0b11)
	h.maybeFireTally(0b1011)

	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (dedup should suppress the repeat)", calls)
	}
}

func TestTallyUnpackAppliesCameraOffset(t *testing.T) {
	h, _ := Create(TypeATEM, "10.0.0.1", 0, "")
	h.SetCameraOffset(10)
	st := h.atemClient.State()
	st.NumCameras = 4
	st.TallyRaw[0] = 1
	st.TallyRaw[2] = 2
	st.TallyPacked = 0b00_10_00_01 // channel 0 = Program, channel 2 = Preview

	pgm, pvw := h.TallyUnpack()
	if len(pgm) != 1 || pgm[0] != 11 {
		t.Fatalf("program = %v, want [11]", pgm)
	}
	if len(pvw) != 1 || pvw[0] != 13 {
		t.Fatalf("preview = %v, want [13]", pvw)
	}
}
