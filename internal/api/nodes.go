package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

// NodeResponse is the API view of a live node.
type NodeResponse struct {
	Address    string            `json:"address"`
	Name       string            `json:"name"`
	Type       device.Type       `json:"type"`
	Descriptor device.Descriptor `json:"descriptor"`
	Drivers    []node.Driver     `json:"drivers"`
	Topics     []string          `json:"topics,omitempty"`
}

// CommandRequest is the optional body of a node command. URL query
// parameters are merged in: "value" sets Value, anything else goes to Query.
type CommandRequest struct {
	Value string            `json:"value,omitempty"`
	Query map[string]string `json:"query,omitempty"`
}

func (s *Server) nodeResponse(n node.Node) NodeResponse {
	return NodeResponse{
		Address:    n.Address(),
		Name:       n.Name(),
		Type:       n.Type(),
		Descriptor: n.Descriptor(),
		Drivers:    n.Drivers(),
		Topics:     s.gw.Topics().Owned(n.Address()),
	}
}

// handleListNodes returns every live node ordered by address.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	list := s.gw.Nodes().List()
	out := make([]NodeResponse, 0, len(list))
	for _, n := range list {
		out = append(out, s.nodeResponse(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out, "count": len(out)})
}

// handleGetNode returns one node.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.gw.Nodes().Get(chi.URLParam(r, "address"))
	if !ok {
		writeNotFound(w, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, s.nodeResponse(n))
}

// handleNodeCommand runs a command on a node.
func (s *Server) handleNodeCommand(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	name := strings.ToUpper(chi.URLParam(r, "command"))

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd := node.Command{Name: name, Value: req.Value, Query: req.Query}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "value" {
			cmd.Value = values[0]
			continue
		}
		if cmd.Query == nil {
			cmd.Query = make(map[string]string)
		}
		cmd.Query[key] = values[0]
	}

	if err := s.gw.Command(address, cmd); err != nil {
		s.logger.Warn("node command failed", "address", address, "command", name, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"address": address,
		"command": cmd,
	})
}
