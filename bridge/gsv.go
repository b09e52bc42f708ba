package bridge

import (
	"math"
	"strconv"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/nmea0183"
)

// satellite is one GSV satellite-in-view entry.
type satellite struct {
	prn        uint64
	elevation  float64
	azimuth    float64
	snr        float64
	haveSNR    bool
	usedInFix  bool
}

// gsvBuffer accumulates a GSV multi-sentence group (spec §4.12: GSV
// sentences arrive in a numbered 1..total run, each carrying up to 4
// satellites; PGN 129540 is emitted once the run completes).
type gsvBuffer struct {
	total      int
	received   int
	satellites []satellite
}

func (b *gsvBuffer) reset() {
	b.total = 0
	b.received = 0
	b.satellites = nil
}

// gsaState is the most recently parsed GSA sentence: the set of PRNs the
// receiver reports as used in the current fix, cross-referenced onto GSV
// satellites before PGN 129540 is emitted.
type gsaState struct {
	prnsInUse map[uint64]bool
}

func parseGSA(s nmea0183.Sentence) gsaState {
	st := gsaState{prnsInUse: make(map[uint64]bool)}
	// Fields 2..13 (0-indexed starting after mode fields) are PRN slots.
	for i := 2; i <= 13; i++ {
		f := s.Field(i)
		if f == "" {
			continue
		}
		prn, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		st.prnsInUse[prn] = true
	}
	return st
}

// convertGSV buffers one GSV sentence into the in-progress group and, once
// the declared total sentence count is reached, cross-references GSA's
// in-use PRNs and emits a single PGN 129540.
func (c *Converter) convertGSV(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	total, err := strconv.Atoi(s.Field(0))
	if err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(s.Field(1))
	if err != nil {
		return nil, err
	}

	if number == 1 {
		c.gsv.reset()
		c.gsv.total = total
	}
	c.gsv.received++

	// Remaining fields come in groups of 4: PRN, elevation, azimuth, SNR.
	for i := 3; s.Field(i) != ""; i += 4 {
		prn, err := strconv.ParseUint(s.Field(i), 10, 8)
		if err != nil {
			break
		}
		sat := satellite{
			prn:       prn,
			elevation: degToRad(parseFloatOrNaN(s.Field(i + 1))),
			azimuth:   degToRad(parseFloatOrNaN(s.Field(i + 2))),
		}
		if snr := parseFloatOrNaN(s.Field(i + 3)); !isNaN(snr) {
			sat.snr = snr
			sat.haveSNR = true
		}
		c.gsv.satellites = append(c.gsv.satellites, sat)
	}

	if number < c.gsv.total {
		return nil, nil
	}

	for i := range c.gsv.satellites {
		c.gsv.satellites[i].usedInFix = c.gsa.prnsInUse[c.gsv.satellites[i].prn]
	}

	var d n2k.RawData
	sid := c.nextSID(streamGPSGSV)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(8, 8, 3); err != nil { // mode: 3 = range residuals used
		return nil, err
	}
	if err := d.EncodeVariableUint(16, 8, uint64(len(c.gsv.satellites))); err != nil {
		return nil, err
	}

	bit := uint16(24)
	const perSatBits = 8 + 16 + 16 + 16 + 8 // PRN + elevation + azimuth + SNR + status
	for _, sat := range c.gsv.satellites {
		if err := d.EncodeVariableUint(bit, 8, sat.prn); err != nil {
			return nil, err
		}
		if err := d.EncodeFloat(bit+8, 16, true, 1e-4, 0, sat.elevation); err != nil {
			return nil, err
		}
		if err := d.EncodeFloat(bit+24, 16, false, 1e-4, 0, sat.azimuth); err != nil {
			return nil, err
		}
		snr := math.NaN()
		if sat.haveSNR {
			snr = sat.snr
		}
		if err := d.EncodeFloat(bit+40, 16, false, 0.01, 0, snr); err != nil {
			return nil, err
		}
		status := uint64(1) // 1 = tracked
		if sat.usedInFix {
			status = 2 // 2 = used
		}
		if err := d.EncodeVariableUint(bit+56, 8, status); err != nil {
			return nil, err
		}
		bit += perSatBits
	}

	c.gsv.reset()
	return []n2k.RawMessage{single(ts, header(PGNGNSSSatsInView, ts), d)}, nil
}

func isNaN(f float64) bool {
	return f != f
}
