package atem

import "encoding/binary"

// tallyAffecting reports whether a command name can shift the packed
// tally.
func tallyAffecting(name string) bool {
	switch name {
	case "PrgI", "PrvI", "TlIn", "TlSr", "KeOn", "DskS", "DskP", "SSrc", "TrSS", "TrPs", "TrPr":
		return true
	default:
		return false
	}
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// applyCommand updates state from one parsed command. Malformed or
// too-short payloads drop the entry, not the session.
func (c *Client) applyCommand(name string, p []byte) {
	s := c.state
	switch name {
	case "_ver":
		if len(p) < 4 {
			return
		}
		s.ProtocolMajor = binary.BigEndian.Uint16(p[0:2])
		s.ProtocolMinor = binary.BigEndian.Uint16(p[2:4])

	case "_pin":
		if len(p) == 0 {
			return
		}
		n := len(p)
		if n > 63 {
			n = 63
		}
		s.ProductName = cstr(p[:n])

	case "_top":
		if len(p) < 7 {
			return
		}
		s.NumMEs = int(p[0])
		s.NumSources = int(p[1])
		s.NumDSKs = int(p[5])
		s.NumSuperSources = int(p[6])

	case "_MeC":
		if len(p) < 2 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			s.NumKeyers[me] = p[1]
		}

	case "_TlC":
		if len(p) < 5 {
			return
		}
		s.NumCameras = int(p[4])
		s.recomputeCameraLimit()

	case "InPr":
		if len(p) < 26 {
			return
		}
		sourceID := binary.BigEndian.Uint16(p[0:2])
		s.Inputs[sourceID] = Input{
			SourceID:  sourceID,
			LongName:  cstr(p[2:22]),
			ShortName: cstr(p[22:26]),
		}

	case "PrgI":
		if len(p) < 4 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			s.ProgramInput[me] = binary.BigEndian.Uint16(p[2:4])
		}

	case "PrvI":
		if len(p) < 4 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			s.PreviewInput[me] = binary.BigEndian.Uint16(p[2:4])
		}

	case "TlIn":
		if len(p) < 2 {
			return
		}
		count := int(binary.BigEndian.Uint16(p[0:2]))
		flags := p[2:]
		if count > len(flags) {
			count = len(flags)
		}
		if count > maxInputs {
			count = maxInputs
		}
		for i := 0; i < count; i++ {
			s.TallyRaw[i] = flags[i] & 3
		}
		s.recomputeTally()

	case "TrSS":
		if len(p) < 3 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			t := &s.Transitions[me]
			t.Style = p[1]
			next := p[2]
			t.NextBackground = next&0x01 != 0
			t.NextKeyMask = (next >> 1) & 0x0F
		}

	case "TrPs":
		if len(p) < 6 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			t := &s.Transitions[me]
			t.InTransition = p[1] != 0
			t.Position = binary.BigEndian.Uint16(p[4:6])
		}

	case "TrPr":
		if len(p) < 2 {
			return
		}
		me := int(p[0])
		if me >= 0 && me < maxMEs {
			s.Transitions[me].PreviewEnabled = p[1] != 0
		}

	case "KeOn":
		if len(p) < 3 {
			return
		}
		me := int(p[0])
		keyer := int(p[1])
		if me >= 0 && me < maxMEs && keyer >= 0 && keyer < maxKeyersPerME {
			s.KeyerOnAir[me][keyer] = p[2] != 0
		}

	case "DskS":
		if len(p) < 3 {
			return
		}
		dsk := int(p[0])
		if dsk >= 0 && dsk < maxDSKs {
			s.DSKOnAir[dsk] = p[1] != 0
			s.DSKInTransition[dsk] = p[2] != 0
		}

	case "DskP":
		if len(p) < 2 {
			return
		}
		dsk := int(p[0])
		if dsk >= 0 && dsk < maxDSKs {
			s.DSKTie[dsk] = p[1] != 0
		}

	case "SSrc":
		if len(p) < 4 {
			return
		}
		s.SuperSourceFill = binary.BigEndian.Uint16(p[0:2])
		s.SuperSourceKey = binary.BigEndian.Uint16(p[2:4])

	case "InCm":
		s.Initialized = true

	default:
		return
	}

	if tallyAffecting(name) {
		s.tallyNeedsUpdate = true
	}
}

// --- outbound control command encoders ---

func cmdCPgI(me uint8, source uint16) []byte {
	hi, lo := byte(source>>8), byte(source)
	return buildCommand("CPgI", []byte{me, 0, hi, lo})
}

func cmdCPvI(me uint8, source uint16) []byte {
	hi, lo := byte(source>>8), byte(source)
	return buildCommand("CPvI", []byte{me, 0, hi, lo})
}

func cmdDCut(me uint8) []byte {
	return buildCommand("DCut", []byte{me, 0, 0, 0})
}

func cmdDAut(me uint8) []byte {
	return buildCommand("DAut", []byte{me, 0, 0, 0})
}

func cmdCDsL(dsk uint8, onAir bool) []byte {
	return buildCommand("CDsL", []byte{dsk, boolByte(onAir), 0, 0})
}

func cmdDDsA(dsk uint8) []byte {
	return buildCommand("DDsA", []byte{dsk, 0, 0, 0})
}

func cmdCDsT(dsk uint8, tie bool) []byte {
	return buildCommand("CDsT", []byte{dsk, boolByte(tie), 0, 0})
}

func cmdCKOn(me, keyer uint8, onAir bool) []byte {
	return buildCommand("CKOn", []byte{me, keyer, boolByte(onAir), 0})
}

// cmdCTTp encodes the next-transition selection command:
// {0x02, me, 0, bkgd | (nextKeyMask << 1)}. The byte layout has not
// been cross-checked against a live device.
func cmdCTTp(me uint8, bkgd bool, nextKeyMask uint8) []byte {
	last := boolByte(bkgd) | (nextKeyMask << 1)
	return buildCommand("CTTp", []byte{0x02, me, 0, last})
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
