package oem

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"
)

// ParseError indicates the feed payload (or a cached record) is structurally
// invalid. Offset is the byte position of the offending record in the input,
// or -1 when no position applies.
type ParseError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing ephemeris at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("parsing ephemeris at offset %d: %s", e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// xmlStateVector mirrors one <stateVector> element of the OEM feed. Position
// elements carry a units attribute which chardata decoding ignores.
type xmlStateVector struct {
	Epoch string  `xml:"EPOCH"`
	X     float64 `xml:"X"`
	Y     float64 `xml:"Y"`
	Z     float64 `xml:"Z"`
	XDot  float64 `xml:"X_DOT"`
	YDot  float64 `xml:"Y_DOT"`
	ZDot  float64 `xml:"Z_DOT"`
}

// Parse reads OEM XML from r and returns the contained state vectors sorted
// ascending by epoch. <stateVector> elements are matched at any depth, the
// way the upstream file nests them under oem/body/segment/data. A malformed
// record fails the whole parse with a *ParseError carrying its byte offset.
func Parse(r io.Reader, logger *slog.Logger) ([]StateVector, error) {
	dec := xml.NewDecoder(r)

	var vectors []StateVector
	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Offset: offset, Msg: "malformed XML", Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "stateVector" {
			continue
		}

		var raw xmlStateVector
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return nil, &ParseError{Offset: offset, Msg: "malformed stateVector element", Err: err}
		}

		epoch, err := ParseEpoch(raw.Epoch)
		if err != nil {
			return nil, &ParseError{Offset: offset, Msg: "invalid EPOCH", Err: err}
		}

		vectors = append(vectors, StateVector{
			Epoch: epoch,
			X:     raw.X,
			Y:     raw.Y,
			Z:     raw.Z,
			XDot:  raw.XDot,
			YDot:  raw.YDot,
			ZDot:  raw.ZDot,
		})
	}

	return normalize(vectors, logger), nil
}

// normalize sorts vectors ascending by epoch and drops duplicate epochs,
// keeping the first occurrence. Sorted-unique ordering is the dataset
// invariant every downstream lookup relies on.
func normalize(vectors []StateVector, logger *slog.Logger) []StateVector {
	sort.SliceStable(vectors, func(i, j int) bool {
		return vectors[i].Epoch.Before(vectors[j].Epoch)
	})

	out := vectors[:0]
	var prev time.Time
	for i, sv := range vectors {
		if i > 0 && sv.Epoch.Equal(prev) {
			logger.Warn("dropping duplicate epoch", "epoch", FormatEpoch(sv.Epoch))
			continue
		}
		out = append(out, sv)
		prev = sv.Epoch
	}
	return out
}

// NewDataset wraps sorted vectors in a Dataset with its epoch range filled in.
func NewDataset(source string, fetchedAt time.Time, vectors []StateVector) *Dataset {
	ds := &Dataset{
		Source:    source,
		FetchedAt: fetchedAt,
		Vectors:   vectors,
	}
	if len(vectors) > 0 {
		ds.EpochRange = EpochRange{
			First: vectors[0].Epoch,
			Last:  vectors[len(vectors)-1].Epoch,
		}
	}
	return ds
}
