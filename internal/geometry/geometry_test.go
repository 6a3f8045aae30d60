package geometry

import (
	"encoding/hex"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
)

func assertEndpoints(t *testing.T, got Endpoints, latS, lonS, latE, lonE float64) {
	t.Helper()
	if got.LatitudeStart == nil || got.LongitudeStart == nil || got.LatitudeEnd == nil || got.LongitudeEnd == nil {
		t.Fatalf("expected all endpoints set, got %+v", got)
	}
	if *got.LatitudeStart != latS || *got.LongitudeStart != lonS || *got.LatitudeEnd != latE || *got.LongitudeEnd != lonE {
		t.Fatalf("endpoints=(%v,%v)->(%v,%v), want (%v,%v)->(%v,%v)",
			*got.LatitudeStart, *got.LongitudeStart, *got.LatitudeEnd, *got.LongitudeEnd,
			latS, lonS, latE, lonE)
	}
}

func TestLineRoundTripThroughColumnValue(t *testing.T) {
	line := NewNullLine(NewLine(10, 20, 30, 40))

	v, err := line.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "SRID=4326;LINESTRING(20 10,40 30)" {
		t.Fatalf("value=%v", v)
	}

	var back Line
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	assertEndpoints(t, LineEndpoints(back.LineString), 10, 20, 30, 40)
}

func TestEndpointsFromHexEWKB(t *testing.T) {
	raw, err := ewkb.Marshal(NewLine(-17.5, 146.2, -17.6, 146.3), SRID)
	if err != nil {
		t.Fatalf("marshal ewkb: %v", err)
	}
	assertEndpoints(t, EndpointsOf(hex.EncodeToString(raw)), -17.5, 146.2, -17.6, 146.3)
	assertEndpoints(t, EndpointsOf(raw), -17.5, 146.2, -17.6, 146.3)
}

func TestEndpointsFromPlainWKB(t *testing.T) {
	raw, err := wkb.Marshal(NewLine(1, 2, 3, 4))
	if err != nil {
		t.Fatalf("marshal wkb: %v", err)
	}
	assertEndpoints(t, EndpointsOf(raw), 1, 2, 3, 4)
}

func TestEndpointsFromGeoJSONMapping(t *testing.T) {
	mapping := map[string]any{
		"type":        "LineString",
		"coordinates": []any{[]any{20.0, 10.0}, []any{25.0, 15.0}, []any{40.0, 30.0}},
	}
	// only the first and last vertex matter, whatever the vertex count
	assertEndpoints(t, EndpointsOf(mapping), 10, 20, 30, 40)
	assertEndpoints(t, EndpointsOf(`{"type":"LineString","coordinates":[[20,10],[40,30]]}`), 10, 20, 30, 40)
}

func TestEndpointsAbsentOrUnknown(t *testing.T) {
	for _, src := range []any{nil, "", 42, orb.Point{1, 2}, "not a geometry"} {
		got := EndpointsOf(src)
		if got.LatitudeStart != nil || got.LongitudeStart != nil || got.LatitudeEnd != nil || got.LongitudeEnd != nil {
			t.Fatalf("EndpointsOf(%#v)=%+v, want all nil", src, got)
		}
	}
}

func TestLineScanNull(t *testing.T) {
	l := NewNullLine(NewLine(1, 2, 3, 4))
	if err := l.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if l.Valid {
		t.Fatalf("expected invalid line after scanning NULL")
	}
	v, err := l.Value()
	if err != nil || v != nil {
		t.Fatalf("value=%v err=%v, want nil", v, err)
	}
}

func TestPointScanAndLatLon(t *testing.T) {
	var p Point
	if err := p.Scan("SRID=4326;POINT(146.2 -17.5)"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	lat, lon := p.LatLon()
	if lat == nil || lon == nil || *lat != -17.5 || *lon != 146.2 {
		t.Fatalf("lat/lon=%v/%v", lat, lon)
	}
	if err := p.Scan("SRID=4326;LINESTRING(1 2,3 4)"); err != nil {
		t.Fatalf("scan line into point: %v", err)
	}
	if p.Valid {
		t.Fatalf("a line scanned into a point should read as null")
	}
}

func TestLineScanUnreadableIsNull(t *testing.T) {
	for _, src := range []any{"SRID=4326;POINT(1 2)", "not a geometry", []byte{0x01, 0x02}, 42} {
		l := NewNullLine(NewLine(1, 2, 3, 4))
		if err := l.Scan(src); err != nil {
			t.Fatalf("Scan(%#v): %v", src, err)
		}
		if l.Valid {
			t.Fatalf("Scan(%#v) left a valid line", src)
		}
		if got := LineEndpoints(l.LineString); got.LatitudeStart != nil || got.LongitudeEnd != nil {
			t.Fatalf("Scan(%#v) endpoints=%+v, want nil", src, got)
		}
	}
}

func TestColumnTypesDeclareGeometry(t *testing.T) {
	if got := (Line{}).GormDataType(); got != "geometry" {
		t.Fatalf("Line data type=%q", got)
	}
	if got := (Point{}).GormDataType(); got != "geometry" {
		t.Fatalf("Point data type=%q", got)
	}
}
