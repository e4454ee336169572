// Package query implements point and range lookups over an ephemeris
// dataset. Every function is a pure read: the dataset is treated as
// immutable and results are views or copies, never in-place mutations.
package query

import (
	"errors"
	"sort"
	"time"

	"github.com/orbit/ephgo/internal/oem"
)

var (
	// ErrEmptyDataset indicates an aggregate was requested over zero records.
	ErrEmptyDataset = errors.New("dataset has no state vectors")

	// ErrEpochNotFound indicates no record has the requested epoch.
	ErrEpochNotFound = errors.New("epoch not found in dataset")

	// ErrInvalidParameter indicates a negative limit or offset.
	ErrInvalidParameter = errors.New("limit and offset must be non-negative")
)

// Slice returns dataset[offset : offset+limit] in epoch order. An offset
// past the end yields an empty slice, not an error. Negative values are
// rejected with ErrInvalidParameter.
func Slice(ds *oem.Dataset, offset, limit int) ([]oem.StateVector, error) {
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidParameter
	}
	if offset >= len(ds.Vectors) {
		return []oem.StateVector{}, nil
	}

	end := offset + limit
	if end > len(ds.Vectors) {
		end = len(ds.Vectors)
	}
	return ds.Vectors[offset:end], nil
}

// ByEpoch returns the record with exactly the given epoch, or
// ErrEpochNotFound.
func ByEpoch(ds *oem.Dataset, epoch time.Time) (oem.StateVector, error) {
	i := insertionPoint(ds.Vectors, epoch)
	if i < len(ds.Vectors) && ds.Vectors[i].Epoch.Equal(epoch) {
		return ds.Vectors[i], nil
	}
	return oem.StateVector{}, ErrEpochNotFound
}

// Closest returns the record whose epoch is nearest to ref. On an exact tie
// the earlier epoch wins. A ref outside the dataset's span returns the
// boundary record. Fails with ErrEmptyDataset on zero records.
func Closest(ds *oem.Dataset, ref time.Time) (oem.StateVector, error) {
	vs := ds.Vectors
	if len(vs) == 0 {
		return oem.StateVector{}, ErrEmptyDataset
	}

	i := insertionPoint(vs, ref)
	switch {
	case i == 0:
		return vs[0], nil
	case i == len(vs):
		return vs[len(vs)-1], nil
	}

	before, after := vs[i-1], vs[i]
	// <= keeps the earlier record on an exact midpoint.
	if ref.Sub(before.Epoch) <= after.Epoch.Sub(ref) {
		return before, nil
	}
	return after, nil
}

// Range returns the dataset's first and last epochs and the duration between
// them. Fails with ErrEmptyDataset on zero records.
func Range(ds *oem.Dataset) (oem.EpochRange, time.Duration, error) {
	if len(ds.Vectors) == 0 {
		return oem.EpochRange{}, 0, ErrEmptyDataset
	}
	r := oem.EpochRange{
		First: ds.Vectors[0].Epoch,
		Last:  ds.Vectors[len(ds.Vectors)-1].Epoch,
	}
	return r, r.Span(), nil
}

// AvgSpeed returns the arithmetic mean of the instantaneous speed over every
// record. Fails with ErrEmptyDataset on zero records.
func AvgSpeed(ds *oem.Dataset) (float64, error) {
	if len(ds.Vectors) == 0 {
		return 0, ErrEmptyDataset
	}

	var sum float64
	for _, sv := range ds.Vectors {
		sum += Speed(sv.XDot, sv.YDot, sv.ZDot)
	}
	return sum / float64(len(ds.Vectors)), nil
}

// insertionPoint returns the index of the first vector whose epoch is not
// before t. Vectors must be sorted ascending by epoch.
func insertionPoint(vs []oem.StateVector, t time.Time) int {
	return sort.Search(len(vs), func(i int) bool {
		return !vs[i].Epoch.Before(t)
	})
}
