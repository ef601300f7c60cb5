package switcher

import (
	"fmt"
	"io"
	"strings"
)

// PrintTopology writes a human-readable summary of the switcher's
// static identity: backend type, product name, and the channel counts
// the camera mapping is derived from. Diagnostic only.
func (h *Handle) PrintTopology(w io.Writer) {
	info := h.GetInfo()
	fmt.Fprintf(w, "switcher: %s (%s)\n", h.kind, info.ProductName)
	fmt.Fprintf(w, "  host: %s:%d\n", h.host, h.port)
	fmt.Fprintf(w, "  cameras: %d  MEs: %d\n", info.NumCameras, info.NumMEs)
	fmt.Fprintf(w, "  camera mapping: offset=%d effective_limit=%d\n", h.CameraOffset(), h.GetEffectiveCameraCount())
}

// PrintStatus writes a human-readable summary of the switcher's
// current live state: connection, program/preview, and the unpacked
// tally channel lists.
func (h *Handle) PrintStatus(w io.Writer) {
	s := h.GetState()
	fmt.Fprintf(w, "switcher: %s  connected=%v initialized=%v\n", h.kind, s.Connected, s.Initialized)
	if !s.Connected {
		return
	}
	fmt.Fprintf(w, "  program=%d preview=%d\n", s.ProgramInput, s.PreviewInput)
	if s.InTransition {
		fmt.Fprintf(w, "  transition in progress: %d/10000\n", s.TransitionPosition)
	}

	pgm, pvw := h.TallyUnpack()
	fmt.Fprintf(w, "  tally: program=[%s] preview=[%s]\n", joinInts(pgm), joinInts(pvw))
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}
