package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sanonone/lattice/pkg/lattice"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /items", s.handleAddItem)

	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("POST /nodes", s.handleCreateNode)
	mux.HandleFunc("GET /nodes/{id}", s.handleGetNode)
	mux.HandleFunc("POST /nodes/{id}/items", s.handleAddItemToNode)
	mux.HandleFunc("POST /nodes/{id}/compress", s.handleCompress)
	mux.HandleFunc("POST /nodes/{id}/links/semantic", s.handleSemanticLink)
	mux.HandleFunc("POST /nodes/{id}/links/temporal", s.handleTemporalLink)
	mux.HandleFunc("GET /nodes/{id}/neighbors", s.handleNeighbors)

	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /route", s.handleRoute)

	mux.HandleFunc("POST /maintenance", s.handleMaintenance)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.Lattice.AddItemToBest(req.item())
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddItemResponse{ID: id})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NodeListResponse{Nodes: s.Lattice.Status().PerNode})
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	id, err := s.Lattice.CreateNode()
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NodeResponse{ID: id})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	tn, err := s.Lattice.Node(r.PathValue("id"))
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tn.Meta())
}

func (s *Server) handleAddItemToNode(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.Lattice.AddItem(r.PathValue("id"), req.item())
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddItemResponse{ID: id})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	threshold := s.Lattice.Config().CompressionThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	res, err := s.Lattice.Compress(r.PathValue("id"), threshold)
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSemanticLink(w http.ResponseWriter, r *http.Request) {
	var req SemanticLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Lattice.AddSemanticLink(r.PathValue("id"), req.Target, req.Weight); err != nil {
		s.writeLatticeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemporalLink(w http.ResponseWriter, r *http.Request) {
	var req TemporalLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Lattice.AddTemporalLink(r.PathValue("id"), req.Target); err != nil {
		s.writeLatticeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	minWeight := 0.0
	if v := r.URL.Query().Get("min_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_weight must be a number")
			return
		}
		minWeight = f
	}
	neighbors, err := s.Lattice.Neighbors(r.PathValue("id"), minWeight)
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NeighborsResponse{Neighbors: neighbors})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	hits, err := s.Lattice.Search(req.Embedding, req.TopK)
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	if hits == nil {
		hits = []lattice.Hit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	routes, err := s.Lattice.RouteQueryEmb(req.Embedding, req.TopK)
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RouteResponse{Routes: routes})
}

// handleMaintenance runs one maintenance tick. With ?async=true the tick runs
// in the background and a task id is returned.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		task := s.tasks.Start("maintenance", func() (any, error) {
			return s.Lattice.MaintenanceTick()
		})
		writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: task.ID()})
		return
	}
	report, err := s.Lattice.MaintenanceTick()
	if err != nil {
		s.writeLatticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.GetTask(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task.View())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Lattice.Stats())
}

// decodeBody reads a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeLatticeError maps lattice errors to HTTP status codes.
func (s *Server) writeLatticeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lattice.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lattice.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lattice.ErrHybridDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lattice.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("Lattice operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
