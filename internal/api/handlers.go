package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbit/ephgo/internal/geo"
	"github.com/orbit/ephgo/internal/ingest"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/query"
	"github.com/orbit/ephgo/internal/store"
)

// stateVectorJSON is the wire form of one record: flat fields, km and km/s,
// epoch in the canonical ordinal-day layout.
type stateVectorJSON struct {
	Epoch string  `json:"epoch"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	XDot  float64 `json:"x_dot"`
	YDot  float64 `json:"y_dot"`
	ZDot  float64 `json:"z_dot"`
}

func toWire(sv oem.StateVector) stateVectorJSON {
	return stateVectorJSON{
		Epoch: oem.FormatEpoch(sv.Epoch),
		X:     sv.X, Y: sv.Y, Z: sv.Z,
		XDot: sv.XDot, YDot: sv.YDot, ZDot: sv.ZDot,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: query errors are
// the caller's fault (4xx), ingestion and backend errors are ours (5xx),
// conversion failures blame the upstream capability (502).
func writeError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var (
		status   int
		fetchErr *oem.FetchError
		parseErr *oem.ParseError
	)

	switch {
	case errors.Is(err, query.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, query.ErrEpochNotFound):
		status = http.StatusNotFound
	case errors.Is(err, geo.ErrConversion):
		status = http.StatusBadGateway
	case errors.Is(err, query.ErrEmptyDataset),
		errors.Is(err, store.ErrUnavailable),
		errors.As(err, &fetchErr),
		errors.As(err, &parseErr):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseEpochParam resolves the {epoch} path segment. An unparseable epoch
// can match no record, so it reports not-found rather than a bare 400.
func parseEpochParam(r *http.Request) (time.Time, error) {
	epoch, err := oem.ParseEpoch(r.PathValue("epoch"))
	if err != nil {
		return time.Time{}, query.ErrEpochNotFound
	}
	return epoch, nil
}

// epochsHandler serves GET /epochs?limit=&offset=.
func epochsHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := svc.Dataset(r.Context())
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			offset, err = strconv.Atoi(v)
			if err != nil {
				writeError(logger, w, r, query.ErrInvalidParameter)
				return
			}
		}

		limit := len(ds.Vectors) // absent limit means all remaining
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil {
				writeError(logger, w, r, query.ErrInvalidParameter)
				return
			}
		}

		vectors, err := query.Slice(ds, offset, limit)
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		out := make([]stateVectorJSON, len(vectors))
		for i, sv := range vectors {
			out[i] = toWire(sv)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// epochHandler serves GET /epochs/{epoch}.
func epochHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sv, err := lookupEpoch(r, svc)
		if err != nil {
			writeError(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toWire(sv))
	}
}

// speedHandler serves GET /epochs/{epoch}/speed.
func speedHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sv, err := lookupEpoch(r, svc)
		if err != nil {
			writeError(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"epoch": oem.FormatEpoch(sv.Epoch),
			"speed": query.Speed(sv.XDot, sv.YDot, sv.ZDot),
		})
	}
}

// locationHandler serves GET /epochs/{epoch}/location.
func locationHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sv, err := lookupEpoch(r, svc)
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		loc, err := geo.Resolve(sv)
		if err != nil {
			writeError(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	}
}

// nowHandler serves GET /now: the record nearest the current time plus its
// instantaneous speed.
func nowHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := svc.Dataset(r.Context())
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		sv, err := query.Closest(ds, time.Now().UTC())
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"state_vector": toWire(sv),
			"speed":        query.Speed(sv.XDot, sv.YDot, sv.ZDot),
		})
	}
}

// refreshHandler serves POST /refresh: operational wholesale reload.
func refreshHandler(logger *slog.Logger, svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := svc.Refresh(r.Context())
		if err != nil {
			writeError(logger, w, r, err)
			return
		}

		resp := map[string]any{
			"vectors":    len(ds.Vectors),
			"fetched_at": ds.FetchedAt.UTC().Format(time.RFC3339),
		}
		if len(ds.Vectors) > 0 {
			resp["first_epoch"] = oem.FormatEpoch(ds.EpochRange.First)
			resp["last_epoch"] = oem.FormatEpoch(ds.EpochRange.Last)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func lookupEpoch(r *http.Request, svc *ingest.Service) (oem.StateVector, error) {
	epoch, err := parseEpochParam(r)
	if err != nil {
		return oem.StateVector{}, err
	}

	ds, err := svc.Dataset(r.Context())
	if err != nil {
		return oem.StateVector{}, err
	}

	return query.ByEpoch(ds, epoch)
}
