package hls

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Segment is one entry in a media playlist: a fixed-duration slice of the
// narration referenced by URI. Sequence numbers are dense and start at 0.
type Segment struct {
	Sequence int
	Duration float64
	URI      string
}

// Playlist is a segmented media manifest. While generation is running the
// server re-renders it with more segments on every refresh; Ended marks the
// final render (#EXT-X-ENDLIST).
type Playlist struct {
	TargetDuration int
	Segments       []Segment
	Ended          bool
}

// TotalDuration is the sum of all segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// Render produces the m3u8 text form of the playlist.
func (p *Playlist) Render() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	target := p.TargetDuration
	if target == 0 {
		for _, s := range p.Segments {
			if d := int(math.Ceil(s.Duration)); d > target {
				target = d
			}
		}
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	for _, s := range p.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", s.Duration)
		b.WriteString(s.URI)
		b.WriteByte('\n')
	}

	if p.Ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// Parse reads an m3u8 media playlist back into a Playlist. Unknown tags are
// skipped; only the subset this service renders is required.
func Parse(text string) (*Playlist, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "#EXTM3U" {
		return nil, fmt.Errorf("hls: missing #EXTM3U header")
	}

	p := &Playlist{}
	pendingDuration := -1.0
	seq := 0

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("hls: bad target duration: %w", err)
			}
			p.TargetDuration = v
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			if i := strings.IndexByte(val, ','); i >= 0 {
				val = val[:i]
			}
			d, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("hls: bad segment duration %q: %w", val, err)
			}
			pendingDuration = d
		case line == "#EXT-X-ENDLIST":
			p.Ended = true
		case strings.HasPrefix(line, "#"):
			// Unknown tag, ignore.
		default:
			if pendingDuration < 0 {
				return nil, fmt.Errorf("hls: segment %q without #EXTINF", line)
			}
			p.Segments = append(p.Segments, Segment{Sequence: seq, Duration: pendingDuration, URI: line})
			seq++
			pendingDuration = -1
		}
	}

	return p, nil
}
