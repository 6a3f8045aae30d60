// Package geometry converts between the lat/lon endpoints exposed by the API and
// the single line geometry persisted for a transect (and the point geometry of a
// submission).
package geometry

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"deepreef/internal/logging"
)

// SRID is the spatial reference every stored geometry is tagged with (WGS 84).
const SRID = 4326

var ErrUnsupported = errors.New("unsupported geometry representation")

// Endpoints are the derived start/end coordinates of a line.
// All four fields are nil when the geometry is absent or unreadable.
type Endpoints struct {
	LatitudeStart  *float64 `json:"latitude_start"`
	LongitudeStart *float64 `json:"longitude_start"`
	LatitudeEnd    *float64 `json:"latitude_end"`
	LongitudeEnd   *float64 `json:"longitude_end"`
}

// NewLine builds the two-point line for the given endpoints. orb points are (lon, lat).
func NewLine(latStart, lonStart, latEnd, lonEnd float64) orb.LineString {
	return orb.LineString{
		{lonStart, latStart},
		{lonEnd, latEnd},
	}
}

// EWKT serializes g as WKT prefixed with the spatial reference identifier,
// the form PostGIS accepts as geometry input.
func EWKT(g orb.Geometry) string {
	return fmt.Sprintf("SRID=%d;%s", SRID, wkt.MarshalString(g))
}

// Parse decodes a persisted geometry. Accepted inputs:
//   - raw WKB / EWKB bytes
//   - hex-encoded (E)WKB text, as PostGIS returns geometry columns
//   - WKT or EWKT text
//   - GeoJSON geometry objects, as bytes, text or a decoded map
func Parse(src any) (orb.Geometry, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case orb.Geometry:
		return v, nil
	case []byte:
		return parseBytes(v)
	case string:
		return parseText(v)
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return parseGeoJSON(raw)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, src)
	}
}

func parseBytes(b []byte) (orb.Geometry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	// WKB starts with a byte-order marker; anything printable is text.
	if b[0] == 0x00 || b[0] == 0x01 {
		g, _, err := ewkb.Unmarshal(b)
		return g, err
	}
	return parseText(string(b))
}

func parseText(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") {
		return parseGeoJSON([]byte(s))
	}
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "SRID=") {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[i+1:]
		}
		return wkt.Unmarshal(s)
	}
	if isHex(s) {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		g, _, err := ewkb.Unmarshal(raw)
		return g, err
	}
	return wkt.Unmarshal(s)
}

func parseGeoJSON(raw []byte) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// LineEndpoints takes the first and last vertex of a line. Lines with more than two
// vertices are accepted; only their ends are reported.
func LineEndpoints(g orb.Geometry) Endpoints {
	ls, ok := g.(orb.LineString)
	if !ok || len(ls) == 0 {
		return Endpoints{}
	}
	first, last := ls[0], ls[len(ls)-1]
	return Endpoints{
		LatitudeStart:  float64Ptr(first.Lat()),
		LongitudeStart: float64Ptr(first.Lon()),
		LatitudeEnd:    float64Ptr(last.Lat()),
		LongitudeEnd:   float64Ptr(last.Lon()),
	}
}

// EndpointsOf parses src and derives its endpoints. Unreadable input yields empty endpoints.
func EndpointsOf(src any) Endpoints {
	g, err := Parse(src)
	if err != nil || g == nil {
		return Endpoints{}
	}
	return LineEndpoints(g)
}

// GeoJSON returns the GeoJSON mapping of g, or nil.
func GeoJSON(g orb.Geometry) *geojson.Geometry {
	if g == nil {
		return nil
	}
	return geojson.NewGeometry(g)
}

func float64Ptr(v float64) *float64 { return &v }

// Line is a gorm column type for LINESTRING geometry.
// It writes EWKT and reads any representation Parse understands.
type Line struct {
	orb.LineString
	Valid bool
}

func NewNullLine(ls orb.LineString) Line {
	return Line{LineString: ls, Valid: len(ls) > 0}
}

func (l Line) Value() (driver.Value, error) {
	if !l.Valid {
		return nil, nil
	}
	return EWKT(l.LineString), nil
}

// GormDataType keeps gorm from descending into the embedded orb value.
func (Line) GormDataType() string { return "geometry" }

// Scan never fails: an unreadable or non-line geometry reads as null.
func (l *Line) Scan(src any) error {
	*l = Line{}
	g, err := Parse(src)
	if err != nil {
		logging.Warnf("geometry: ignoring unreadable line: %v", err)
		return nil
	}
	if g == nil {
		return nil
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		logging.Warnf("geometry: ignoring %s where a LineString was expected", g.GeoJSONType())
		return nil
	}
	l.LineString = ls
	l.Valid = true
	return nil
}

// Point is a gorm column type for POINT geometry.
type Point struct {
	orb.Point
	Valid bool
}

func (p Point) Value() (driver.Value, error) {
	if !p.Valid {
		return nil, nil
	}
	return EWKT(p.Point), nil
}

func (Point) GormDataType() string { return "geometry" }

func (p *Point) Scan(src any) error {
	*p = Point{}
	g, err := Parse(src)
	if err != nil {
		logging.Warnf("geometry: ignoring unreadable point: %v", err)
		return nil
	}
	if g == nil {
		return nil
	}
	pt, ok := g.(orb.Point)
	if !ok {
		logging.Warnf("geometry: ignoring %s where a Point was expected", g.GeoJSONType())
		return nil
	}
	p.Point = pt
	p.Valid = true
	return nil
}

// LatLon returns the point's coordinates, or nils when the point is null.
func (p Point) LatLon() (lat, lon *float64) {
	if !p.Valid {
		return nil, nil
	}
	return float64Ptr(p.Lat()), float64Ptr(p.Lon())
}
