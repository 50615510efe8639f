package routestream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

var (
	// ErrMalformedFrame marks an inbound frame that is neither a coordinate nor the terminal frame
	ErrMalformedFrame = errors.New("malformed route frame")

	// ErrFinished is returned when frames arrive after the terminal frame
	ErrFinished = errors.New("route stream already finished")
)

// Terminal frame attributes
const (
	attrCoordinates  = "coordinates"
	attrError        = "error"
	attrSafePolyline = "safe-polyline"
	attrFastPolyline = "fast-polyline"
)

// noRouteFound annotates a terminal frame that carried no usable polyline
const noRouteFound = "no route found"

// ProgressFunc receives a copy of the in-progress draft
type ProgressFunc func(draft geo.MultiPolyline)

// Ingestor accumulates the frames of one route stream, in arrival order.
//
// Each coordinate frame, a point [lng, lat] or an explored edge [[lng, lat], [lng, lat]], becomes
// one element of the draft. Every progressEvery elements the draft is handed to the progress
// callback. A draft growing past maxDraft elements is a runaway stream and is reset to empty.
// The terminal frame, recognised by its marker prefix, yields the finished Summary and discards
// the draft.
type Ingestor struct {
	marker        []byte
	maxDraft      int
	progressEvery int
	progress      ProgressFunc

	draft    geo.MultiPolyline
	finished bool
	stats    IngestStats
}

// IngestStats counts what the ingestor has seen
type IngestStats struct {
	Frames    int
	Points    int
	Malformed int
	Progress  int
	Resets    int
}

// NewIngestor creates an Ingestor. progress may be nil.
func NewIngestor(marker string, maxDraft, progressEvery int, progress ProgressFunc) *Ingestor {
	return &Ingestor{
		marker:        []byte(marker),
		maxDraft:      maxDraft,
		progressEvery: progressEvery,
		progress:      progress,
	}
}

// Feed processes one inbound frame. It returns the Summary once the terminal frame arrives and
// nil before that. Frames that cannot be parsed return ErrMalformedFrame and leave the draft intact.
func (in *Ingestor) Feed(frame []byte) (*routing.Summary, error) {
	if in.finished {
		return nil, ErrFinished
	}
	in.stats.Frames++

	trimmed := bytes.TrimSpace(frame)
	if bytes.HasPrefix(trimmed, in.marker) {
		in.finished = true
		in.draft = nil
		return parseTerminal(trimmed), nil
	}

	element, err := parseCoordinates(trimmed)
	if err != nil {
		in.stats.Malformed++
		return nil, err
	}

	in.appendElement(element)
	return nil, nil
}

func (in *Ingestor) appendElement(element geo.Polyline) {
	if len(in.draft) > in.maxDraft {
		in.draft = nil
		in.stats.Resets++
	}

	in.draft = append(in.draft, element)
	in.stats.Points += len(element)

	if len(in.draft)%in.progressEvery == 0 {
		in.stats.Progress++
		if in.progress != nil {
			in.progress(in.Draft())
		}
	}
}

// Draft returns a copy of the in-progress draft
func (in *Ingestor) Draft() geo.MultiPolyline {
	if in.draft == nil {
		return geo.MultiPolyline{}
	}
	return in.draft.Clone()
}

// Finished reports whether the terminal frame has been consumed
func (in *Ingestor) Finished() bool {
	return in.finished
}

// Stats returns frame counters
func (in *Ingestor) Stats() IngestStats {
	return in.stats
}

// parseCoordinates accepts [lng, lat] or [[lng, lat], [lng, lat]]
func parseCoordinates(frame []byte) (geo.Polyline, error) {
	var pair []float64
	if err := json.Unmarshal(frame, &pair); err == nil {
		point, err := pointFromPair(pair)
		if err != nil {
			return nil, err
		}
		return geo.Polyline{point}, nil
	}

	var segment [][]float64
	if err := json.Unmarshal(frame, &segment); err != nil || len(segment) != 2 {
		return nil, fmt.Errorf("%w: %.64q", ErrMalformedFrame, frame)
	}

	points := make(geo.Polyline, 0, 2)
	for _, pair := range segment {
		point, err := pointFromPair(pair)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

func pointFromPair(pair []float64) (geo.Point, error) {
	if len(pair) != 2 {
		return geo.Point{}, fmt.Errorf("%w: expected [lng, lat], got %d values", ErrMalformedFrame, len(pair))
	}
	point := geo.Point{Lng: pair[0], Lat: pair[1]}
	if !point.Valid() {
		return geo.Point{}, fmt.Errorf("%w: %w", ErrMalformedFrame, geo.ErrInvalidCoordinate)
	}
	return point, nil
}

// parseTerminal extracts the route summary from the attributes of the terminal element, e.g.
//
//	<vi-route-panel coordinates="[[[lng,lat],...],[[lng,lat],...]]" error=""></vi-route-panel>
//
// A terminal frame is always final: problems are reported through Summary.Error.
func parseTerminal(frame []byte) *routing.Summary {
	attrs, err := terminalAttributes(frame)
	if err != nil {
		return &routing.Summary{Error: err.Error()}
	}

	summary := &routing.Summary{Error: strings.TrimSpace(attrs[attrError])}
	var problems []string

	if raw := strings.TrimSpace(attrs[attrCoordinates]); raw != "" {
		lines, err := decodeCoordinateAttribute(raw)
		if err != nil {
			problems = append(problems, err.Error())
		}
		if len(lines) > 0 {
			summary.Safe = lines[0]
		}
		if len(lines) > 1 {
			summary.Fast = lines[1]
		}
	}

	// Encoded polylines fill variants the coordinates attribute left empty
	for _, encodedAttr := range []struct {
		attr   string
		target *geo.Polyline
	}{
		{attrSafePolyline, &summary.Safe},
		{attrFastPolyline, &summary.Fast},
	} {
		attr, target := encodedAttr.attr, encodedAttr.target
		encoded := strings.TrimSpace(attrs[attr])
		if encoded == "" || len(*target) > 0 {
			continue
		}
		line, err := geo.DecodePolyline(encoded)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", attr, err))
			continue
		}
		*target = line
	}

	if summary.Empty() && summary.Error == "" && len(problems) == 0 {
		problems = append(problems, noRouteFound)
	}
	if len(problems) > 0 {
		summary.Error = strings.Join(append(nonEmpty(summary.Error), problems...), "; ")
	}

	return summary
}

// terminalAttributes tokenizes the frame and returns the attributes of its first element
func terminalAttributes(frame []byte) (map[string]string, error) {
	z := html.NewTokenizer(bytes.NewReader(frame))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return nil, errors.New("terminal frame has no element")
		case html.StartTagToken, html.SelfClosingTagToken:
			token := z.Token()
			attrs := make(map[string]string, len(token.Attr))
			for _, attr := range token.Attr {
				attrs[attr.Key] = attr.Val
			}
			return attrs, nil
		}
	}
}

// decodeCoordinateAttribute accepts a list of polylines, or a single polyline
func decodeCoordinateAttribute(raw string) ([]geo.Polyline, error) {
	var many [][][]float64
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		lines := make([]geo.Polyline, 0, len(many))
		for _, coords := range many {
			line, err := polylineFromCoords(coords)
			if err != nil {
				return lines, err
			}
			lines = append(lines, line)
		}
		return lines, nil
	}

	var single [][]float64
	if err := json.Unmarshal([]byte(raw), &single); err != nil {
		return nil, fmt.Errorf("malformed route coordinates: %w", err)
	}
	line, err := polylineFromCoords(single)
	if err != nil {
		return nil, err
	}
	return []geo.Polyline{line}, nil
}

func polylineFromCoords(coords [][]float64) (geo.Polyline, error) {
	line := make(geo.Polyline, 0, len(coords))
	for _, pair := range coords {
		point, err := pointFromPair(pair)
		if err != nil {
			return nil, fmt.Errorf("malformed route coordinates: %w", err)
		}
		line = append(line, point)
	}
	return line, nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
