package query

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/orbit/ephgo/internal/oem"
)

var baseEpoch = time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)

// dataset builds n records 4 minutes apart with X set to the record index.
func dataset(n int) *oem.Dataset {
	vectors := make([]oem.StateVector, n)
	for i := range vectors {
		vectors[i] = oem.StateVector{
			Epoch: baseEpoch.Add(time.Duration(i) * 4 * time.Minute),
			X:     float64(i),
			XDot:  1, YDot: 2, ZDot: 3,
		}
	}
	return oem.NewDataset("test", baseEpoch, vectors)
}

func TestSpeed(t *testing.T) {
	tests := []struct {
		name             string
		xDot, yDot, zDot float64
		want             float64
	}{
		{"zero vector", 0, 0, 0, 0},
		{"pythagorean triple", 3, 4, 0, 5},
		{"unit x", 1, 0, 0, 1},
		{"negative components", -3, -4, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Speed(tt.xDot, tt.yDot, tt.zDot); got != tt.want {
				t.Errorf("Speed(%v, %v, %v) = %v, want %v", tt.xDot, tt.yDot, tt.zDot, got, tt.want)
			}
		})
	}
}

func TestSlice(t *testing.T) {
	ds := dataset(10)

	tests := []struct {
		name          string
		offset, limit int
		wantFirstX    float64
		wantLen       int
		wantErr       error
	}{
		{"middle window", 5, 2, 5, 2, nil},
		{"full dataset", 0, 10, 0, 10, nil},
		{"limit past end clamps", 8, 5, 8, 2, nil},
		{"offset past end is empty", 15, 3, 0, 0, nil},
		{"offset at end is empty", 10, 1, 0, 0, nil},
		{"zero limit is empty", 2, 0, 0, 0, nil},
		{"negative offset", -1, 2, 0, 0, ErrInvalidParameter},
		{"negative limit", 0, -2, 0, 0, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Slice(ds, tt.offset, tt.limit)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].X != tt.wantFirstX {
				t.Errorf("first X = %v, want %v", got[0].X, tt.wantFirstX)
			}
			for i := 1; i < len(got); i++ {
				if !got[i-1].Epoch.Before(got[i].Epoch) {
					t.Errorf("slice not in epoch order at index %d", i)
				}
			}
		})
	}
}

func TestSliceIndices(t *testing.T) {
	// Slice(offset=5, limit=2) over 10 records returns exactly indices 5 and 6.
	got, err := Slice(dataset(10), 5, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].X != 5 || got[1].X != 6 {
		t.Errorf("got records %v, want indices 5 and 6", got)
	}
}

func TestByEpoch(t *testing.T) {
	ds := dataset(10)

	sv, err := ByEpoch(ds, baseEpoch.Add(3*4*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.X != 3 {
		t.Errorf("got record X=%v, want 3", sv.X)
	}

	_, err = ByEpoch(ds, baseEpoch.Add(time.Second))
	if !errors.Is(err, ErrEpochNotFound) {
		t.Errorf("err = %v, want ErrEpochNotFound", err)
	}

	_, err = ByEpoch(oem.NewDataset("empty", baseEpoch, nil), baseEpoch)
	if !errors.Is(err, ErrEpochNotFound) {
		t.Errorf("empty dataset err = %v, want ErrEpochNotFound", err)
	}
}

func TestClosest(t *testing.T) {
	ds := dataset(10)
	last := baseEpoch.Add(9 * 4 * time.Minute)

	tests := []struct {
		name  string
		ref   time.Time
		wantX float64
	}{
		{"exact hit", baseEpoch.Add(2 * 4 * time.Minute), 2},
		{"just after a record", baseEpoch.Add(2*4*time.Minute + time.Second), 2},
		{"just before a record", baseEpoch.Add(3*4*time.Minute - time.Second), 3},
		{"exact midpoint ties to earlier", baseEpoch.Add(2*4*time.Minute + 2*time.Minute), 2},
		{"before first clamps to first", baseEpoch.Add(-time.Hour), 0},
		{"after last clamps to last", last.Add(time.Hour), 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sv, err := Closest(ds, tt.ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sv.X != tt.wantX {
				t.Errorf("closest X = %v, want %v", sv.X, tt.wantX)
			}
		})
	}

	_, err := Closest(oem.NewDataset("empty", baseEpoch, nil), baseEpoch)
	if !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty dataset err = %v, want ErrEmptyDataset", err)
	}
}

func TestRange(t *testing.T) {
	ds := dataset(10)

	r, span, err := Range(ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.First.After(r.Last) {
		t.Error("first epoch after last epoch")
	}
	if want := 9 * 4 * time.Minute; span != want {
		t.Errorf("span = %v, want %v", span, want)
	}
	if got := r.Last.Sub(r.First); span != got {
		t.Errorf("span %v does not equal last-first %v", span, got)
	}

	_, _, err = Range(oem.NewDataset("empty", baseEpoch, nil))
	if !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty dataset err = %v, want ErrEmptyDataset", err)
	}
}

func TestAvgSpeed(t *testing.T) {
	// Velocities (1,0,0) and (0,1,0): both speed 1, mean 1.
	vectors := []oem.StateVector{
		{Epoch: baseEpoch, XDot: 1},
		{Epoch: baseEpoch.Add(4 * time.Minute), YDot: 1},
	}
	ds := oem.NewDataset("test", baseEpoch, vectors)

	avg, err := AvgSpeed(ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avg != 1.0 {
		t.Errorf("avg speed = %v, want 1.0", avg)
	}

	_, err = AvgSpeed(oem.NewDataset("empty", baseEpoch, nil))
	if !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty dataset err = %v, want ErrEmptyDataset", err)
	}
}

func TestAvgSpeedMatchesManualMean(t *testing.T) {
	ds := dataset(7)

	avg, err := AvgSpeed(ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := math.Sqrt(1 + 4 + 9)
	if math.Abs(avg-want) > 1e-12 {
		t.Errorf("avg speed = %v, want %v", avg, want)
	}
}
