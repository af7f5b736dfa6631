package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

func (a *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status   string          `json:"status"`
	Dataset  string          `json:"dataset"`
	Loaded   bool            `json:"loaded"`
	Failures []bench.Failure `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// health reports 503 while the last pass failed or has failed detectors.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Dataset: a.cache.Dataset().Name(),
		Loaded:  !a.cache.Snapshot().Signature.IsEmpty(),
	}
	status := http.StatusOK
	if rep := a.cache.LastReport(); rep != nil && !rep.OK() {
		resp.Status = "degraded"
		resp.Failures = rep.Failures
		resp.Error = rep.Error
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, resp)
}

type datasetResponse struct {
	Name      string              `json:"name"`
	Signature signature.Signature `json:"signature"`
	Inputs    int                 `json:"inputs"`
	LoadedAt  *time.Time          `json:"loaded_at,omitempty"`
}

func (a *API) dataset(w http.ResponseWriter, r *http.Request) {
	snap := a.cache.Snapshot()
	resp := datasetResponse{
		Name:      a.cache.Dataset().Name(),
		Signature: snap.Signature,
		Inputs:    len(snap.Inputs),
	}
	if !snap.Signature.IsEmpty() {
		t := snap.LoadedAt
		resp.LoadedAt = &t
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) detectors(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"detectors": a.cache.Entries()})
}

type framesResponse struct {
	Detector    string              `json:"detector"`
	Input       int                 `json:"input"`
	Signature   signature.Signature `json:"signature"`
	Frames      feature.Frames      `json:"frames"`
	Descriptors feature.Descriptors `json:"descriptors,omitempty"`
}

func (a *API) frames(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	input, err := strconv.Atoi(chi.URLParam(r, "input"))
	if err != nil || input < 0 {
		a.writeError(w, http.StatusBadRequest, "input must be a non-negative integer")
		return
	}

	res, ok := a.cache.Results(name)
	if !ok {
		a.writeError(w, http.StatusNotFound, "unknown detector "+name)
		return
	}
	if input >= len(res.Frames) {
		a.writeError(w, http.StatusNotFound, "input out of range")
		return
	}
	if res.Frames[input] == nil {
		a.writeError(w, http.StatusConflict, "detector has no results for this input")
		return
	}

	resp := framesResponse{
		Detector:  name,
		Input:     input,
		Signature: res.Signature,
		Frames:    res.Frames[input],
	}
	if r.URL.Query().Get("descriptors") == "true" {
		resp.Descriptors = res.Descriptors[input]
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) report(w http.ResponseWriter, r *http.Request) {
	rep := a.cache.LastReport()
	if rep == nil {
		a.writeError(w, http.StatusNotFound, "no computation pass has run yet")
		return
	}
	a.writeJSON(w, http.StatusOK, rep)
}

func (a *API) compute(w http.ResponseWriter, r *http.Request) {
	rep, err := a.cache.ComputeAll(r.Context())
	if rep == nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("compute pass interrupted")
	}
	a.writeJSON(w, http.StatusOK, rep)
}
