package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/discovery"
)

// ReplaceDevicesResponse reports the outcome of PUT /devices.
type ReplaceDevicesResponse struct {
	Devices   []device.Descriptor `json:"devices"`
	Skipped   []string            `json:"skipped"`
	Discovery DiscoveryResponse   `json:"discovery"`
}

// DiscoveryResponse is a discovery pass with its per-device errors as text.
type DiscoveryResponse struct {
	discovery.Result
	Errors []string `json:"errors"`
}

func discoveryResponse(res discovery.Result) DiscoveryResponse {
	errs := make([]string, 0, len(res.Skipped)+len(res.Failed))
	for _, err := range res.Skipped {
		errs = append(errs, err.Error())
	}
	for _, err := range res.Failed {
		errs = append(errs, err.Error())
	}
	return DiscoveryResponse{Result: res, Errors: errs}
}

// handleListDevices returns the declared device list.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	store := s.gw.Store()
	list := store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": list,
		"count":   len(list),
		"valid":   store.Valid(),
	})
}

// handleReplaceDevices installs a new device list and runs discovery.
//
// The body is either a JSON array of device entries or an object with a
// "devices" array, the same shape as the device file.
func (s *Server) handleReplaceDevices(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeDeviceList(r.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	loaded, res, err := s.gw.ReplaceDevices(r.Context(), raw)
	if err != nil {
		s.logger.Error("device list replace failed", "error", err)
		writeDomainError(w, err)
		return
	}

	skipped := make([]string, 0, len(loaded.Skipped))
	for _, e := range loaded.Skipped {
		skipped = append(skipped, e.Error())
	}
	writeJSON(w, http.StatusOK, ReplaceDevicesResponse{
		Devices:   loaded.Descriptors,
		Skipped:   skipped,
		Discovery: discoveryResponse(res),
	})
}

func decodeDeviceList(body io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errBody
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errBody
	}

	if data[0] == '[' {
		var raw []map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errBody
		}
		return raw, nil
	}

	var doc struct {
		Devices *[]map[string]any `json:"devices"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errBody
	}
	if doc.Devices == nil {
		return nil, errNoDevices
	}
	return *doc.Devices, nil
}

// handleDiscover runs one discovery pass.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	res, err := s.gw.Discover(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoveryResponse(res))
}

// handleListTopics returns the topic table: each subscribed topic and the
// node that owns it.
func (s *Server) handleListTopics(w http.ResponseWriter, _ *http.Request) {
	table := s.gw.Topics()
	topics := table.Topics()
	owners := make(map[string]string, len(topics))
	for _, t := range topics {
		if addr, ok := table.Resolve(t); ok {
			owners[t] = addr
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": owners, "count": len(owners)})
}

// handleListNotices returns the active notices.
func (s *Server) handleListNotices(w http.ResponseWriter, _ *http.Request) {
	list := s.gw.Notices().List()
	writeJSON(w, http.StatusOK, map[string]any{"notices": list, "count": len(list)})
}
