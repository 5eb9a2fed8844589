package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zsiec/rtpnode/internal/errors"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
	"github.com/zsiec/rtpnode/pkg/version"
)

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// handleHealth reports healthy only while the node is started.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.node.State()
	resp := healthResponse{Status: "ok", State: state.String()}
	status := http.StatusOK
	if state != rtprtcp.StateStarted {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, r, status, resp)
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.node.Snapshot())
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	ssrc, err := parseSSRC(mux.Vars(r)["ssrc"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for _, src := range s.node.Snapshot().Sources {
		if src.SSRC == ssrc {
			s.writeJSON(w, r, http.StatusOK, src)
			return
		}
	}
	s.writeError(w, r, errors.NewNotFoundError("source").WithCode("UNKNOWN_SSRC"))
}

type firResponse struct {
	SSRC            uint32 `json:"ssrc"`
	FIRRequestsSent uint32 `json:"fir_requests_sent"`
}

// handleSendFIR asks the remote sender of an SSRC for a key frame.
func (s *Server) handleSendFIR(w http.ResponseWriter, r *http.Request) {
	ssrc, err := parseSSRC(mux.Vars(r)["ssrc"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.node.SendFIR(ssrc); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := firResponse{SSRC: ssrc}
	for _, src := range s.node.Snapshot().Sources {
		if src.SSRC == ssrc {
			resp.FIRRequestsSent = src.FIRRequestsSent
		}
	}
	s.writeJSON(w, r, http.StatusAccepted, resp)
}

// parseSSRC accepts decimal or 0x-prefixed hex.
func parseSSRC(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, errors.NewValidationError("ssrc must be a 32-bit unsigned integer").
			WithDetails(map[string]interface{}{"ssrc": raw})
	}
	return uint32(v), nil
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Failed to encode response")
	}
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
