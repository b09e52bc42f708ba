// Package bridge converts NMEA-0183 sentences into equivalent
// NMEA-2000 messages (spec §4.12). Each supported formatter produces
// zero or more RawMessages; unconvertible or unrecognized sentences
// produce none.
package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/nmea0183"
)

// NMEA-2000 PGNs this bridge emits.
const (
	PGNPositionRapidUpdate  uint32 = 129025
	PGNCOGSOGRapidUpdate    uint32 = 129026
	PGNGNSSPositionData     uint32 = 129029
	PGNGNSSDOPs             uint32 = 129539
	PGNGNSSSatsInView       uint32 = 129540
	PGNWindData             uint32 = 130306
	PGNWaterDepth           uint32 = 128267
	PGNVesselHeading        uint32 = 127250
	PGNSpeed                uint32 = 128259
)

// ErrUnsupportedFormatter is returned when a sentence's formatter has no
// bridge converter.
var ErrUnsupportedFormatter = errors.New("bridge: no converter for this formatter")

// stream identifies one of the per-type sequence-id counters spec §4.12
// names: GPS, Wind, Depth, Speed, Heading, GPSDOP, GPSGSV.
type stream int

const (
	streamGPS stream = iota
	streamWind
	streamDepth
	streamSpeed
	streamHeading
	streamGPSDOP
	streamGPSGSV
	streamCount
)

// Converter holds the per-stream sequence-id counters and the
// in-progress GSV/GSA buffering state a stateful NMEA-0183→NMEA-2000
// conversion needs.
type Converter struct {
	sid [streamCount]uint8

	gsv gsvBuffer
	gsa gsaState

	now func() time.Time
}

// New creates a Converter with all sequence counters at zero.
func New() *Converter {
	return &Converter{now: time.Now}
}

func (c *Converter) nextSID(s stream) uint8 {
	v := c.sid[s]
	c.sid[s]++
	return v
}

// Convert dispatches s to the matching formatter converter. Strict mode
// callers should treat ErrUnsupportedFormatter as "drop silently"; pass
// through mode callers forward the original sentence unchanged instead.
func (c *Converter) Convert(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	switch s.Formatter {
	case "GGA":
		return c.convertGGA(s, ts)
	case "RMC":
		return c.convertRMC(s, ts)
	case "VTG":
		return c.convertVTG(s, ts)
	case "MWV":
		return c.convertMWV(s, ts)
	case "DPT":
		return c.convertDPT(s, ts)
	case "HDG":
		return c.convertHDG(s, ts)
	case "VBW":
		return c.convertVBW(s, ts)
	case "GSA":
		c.gsa = parseGSA(s)
		return nil, nil
	case "GSV":
		return c.convertGSV(s, ts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormatter, s.Formatter)
	}
}

// knotsToMS converts knots to m/s, per spec §4.12's fixed conversion
// factor (1852/3600).
func knotsToMS(knots float64) float64 {
	return knots * 1852.0 / 3600.0
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// parseLatLon decodes NMEA-0183's "ddmm.mmmm"/"dddmm.mmmm" + hemisphere
// pair into signed decimal degrees.
func parseLatLon(value, hemisphere string, degreeDigits int) (float64, error) {
	if value == "" {
		return math.NaN(), nil
	}
	if len(value) < degreeDigits {
		return 0, fmt.Errorf("bridge: lat/lon field %q too short", value)
	}
	degrees, err := strconv.ParseFloat(value[:degreeDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("bridge: lat/lon degrees: %w", err)
	}
	minutes, err := strconv.ParseFloat(value[degreeDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("bridge: lat/lon minutes: %w", err)
	}
	dec := degrees + minutes/60
	if hemisphere == "S" || hemisphere == "W" {
		dec = -dec
	}
	return dec, nil
}

func parseFloatOrNaN(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func header(pgn uint32, _ time.Time) n2k.CanBusHeader {
	return n2k.CanBusHeader{PGN: pgn, Priority: 2, Destination: n2k.AddressGlobal}
}

func single(ts time.Time, h n2k.CanBusHeader, data n2k.RawData) n2k.RawMessage {
	return n2k.RawMessage{Time: ts, Header: h, Data: data}
}

// convertRMC emits PGN 129025 (Position, Rapid Update): lat/lon only.
func (c *Converter) convertRMC(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	lat, err := parseLatLon(s.Field(2), s.Field(3), 2)
	if err != nil {
		return nil, err
	}
	lon, err := parseLatLon(s.Field(4), s.Field(5), 3)
	if err != nil {
		return nil, err
	}

	var d n2k.RawData
	if err := d.EncodeFloat(0, 32, true, 1e-7, 0, lat); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(32, 32, true, 1e-7, 0, lon); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNPositionRapidUpdate, ts), d)}, nil
}

// convertVTG emits PGN 129026 (COG & SOG, Rapid Update).
func (c *Converter) convertVTG(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	cog := degToRad(parseFloatOrNaN(s.Field(0)))
	sog := knotsToMS(parseFloatOrNaN(s.Field(4)))

	var d n2k.RawData
	sid := c.nextSID(streamGPS)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(8, 2, 0); err != nil { // COG reference: 0 = true
		return nil, err
	}
	if err := d.EncodeFloat(16, 16, false, 1e-4, 0, cog); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(32, 16, false, 1e-2, 0, sog); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNCOGSOGRapidUpdate, ts), d)}, nil
}

// convertGGA emits PGN 129029 (GNSS Position Data): SID, date/time,
// lat/lon, altitude, fix type, satellite count, HDOP.
func (c *Converter) convertGGA(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	lat, err := parseLatLon(s.Field(1), s.Field(2), 2)
	if err != nil {
		return nil, err
	}
	lon, err := parseLatLon(s.Field(3), s.Field(4), 3)
	if err != nil {
		return nil, err
	}
	altitude := parseFloatOrNaN(s.Field(8))
	fixQuality, _ := strconv.ParseUint(s.Field(5), 10, 8)
	numSats, _ := strconv.ParseUint(s.Field(6), 10, 8)
	hdop := parseFloatOrNaN(s.Field(7))

	var d n2k.RawData
	sid := c.nextSID(streamGPS)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(8, 16, 0xFFFF); err != nil { // date unavailable without $xxZDA
		return nil, err
	}
	if err := d.EncodeFloat(24, 32, false, 0.0001, 0, math.NaN()); err != nil { // time of day unavailable
		return nil, err
	}
	if err := d.EncodeFloat(56, 64, true, 1e-16, 0, lat); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(120, 64, true, 1e-16, 0, lon); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(184, 64, true, 1e-6, 0, altitude); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(248, 4, fixQuality); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(264, 8, numSats); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(272, 16, false, 0.01, 0, hdop); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNGNSSPositionData, ts), d)}, nil
}

// convertMWV emits PGN 130306 (Wind Data). NMEA MWV reference R/T maps
// to N2K reference code 2 (apparent)/3 (true-ground-referenced).
func (c *Converter) convertMWV(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	if s.Field(4) != "A" {
		return nil, nil // data invalid flag; nothing to emit
	}
	angle := degToRad(parseFloatOrNaN(s.Field(0)))
	speedUnit := s.Field(3)
	speed := parseFloatOrNaN(s.Field(2))
	if speedUnit == "N" {
		speed = knotsToMS(speed)
	}
	reference := uint64(2)
	if s.Field(1) == "T" {
		reference = 3
	}

	var d n2k.RawData
	sid := c.nextSID(streamWind)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(8, 16, false, 0.01, 0, speed); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(24, 16, false, 0.0001, 0, angle); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(40, 3, reference); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNWindData, ts), d)}, nil
}

// convertDPT emits PGN 128267 (Water Depth).
func (c *Converter) convertDPT(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	depth := parseFloatOrNaN(s.Field(0))
	offset := parseFloatOrNaN(s.Field(1))

	var d n2k.RawData
	sid := c.nextSID(streamDepth)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(8, 32, false, 0.01, 0, depth); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(40, 16, true, 0.001, 0, offset); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNWaterDepth, ts), d)}, nil
}

// convertHDG emits PGN 127250 (Vessel Heading).
func (c *Converter) convertHDG(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	heading := degToRad(parseFloatOrNaN(s.Field(0)))
	deviation := degToRad(parseFloatOrNaN(s.Field(1)))
	if s.Field(2) == "W" {
		deviation = -deviation
	}
	variation := degToRad(parseFloatOrNaN(s.Field(3)))
	if s.Field(4) == "W" {
		variation = -variation
	}

	var d n2k.RawData
	sid := c.nextSID(streamHeading)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(8, 16, false, 0.0001, 0, heading); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(24, 16, true, 0.0001, 0, deviation); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(40, 16, true, 0.0001, 0, variation); err != nil {
		return nil, err
	}
	if err := d.EncodeVariableUint(56, 2, 0); err != nil { // reference: 0 = true
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNVesselHeading, ts), d)}, nil
}

// convertVBW emits PGN 128259 (Speed): water-referenced and
// ground-referenced longitudinal speed.
func (c *Converter) convertVBW(s nmea0183.Sentence, ts time.Time) ([]n2k.RawMessage, error) {
	waterSpeed := knotsToMS(parseFloatOrNaN(s.Field(0)))
	groundSpeed := knotsToMS(parseFloatOrNaN(s.Field(3)))

	var d n2k.RawData
	sid := c.nextSID(streamSpeed)
	if err := d.EncodeVariableUint(0, 8, uint64(sid)); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(8, 16, true, 0.01, 0, waterSpeed); err != nil {
		return nil, err
	}
	if err := d.EncodeFloat(24, 16, true, 0.01, 0, groundSpeed); err != nil {
		return nil, err
	}
	return []n2k.RawMessage{single(ts, header(PGNSpeed, ts), d)}, nil
}
