package server

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/reportgrid/internal/grid"
)

type clientsResponse struct {
	Clients []string `json:"clients"`
}

type titleRequest struct {
	Title *string `json:"title"`
}

// addItemRequest places the new card in the first open slot unless both row
// and col are given.
type addItemRequest struct {
	Spec json.RawMessage `json:"spec"`
	Span *float64        `json:"span"`
	Row  *float64        `json:"row"`
	Col  *float64        `json:"col"`
}

type addItemResponse struct {
	Item   grid.Item   `json:"item"`
	Report grid.Report `json:"report"`
}

// patchItemRequest changes any of a card's payload, width and position, in
// that order.
type patchItemRequest struct {
	Spec json.RawMessage `json:"spec"`
	Span *float64        `json:"span"`
	Row  *float64        `json:"row"`
	Col  *float64        `json:"col"`
}

type reorderRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func toInt(v float64) int {
	return grid.RoundHalfUp(v)
}

func (s *Server) handleClients(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, clientsResponse{Clients: s.engine.Clients()})
}

func (s *Server) handleGet(rw http.ResponseWriter, r *http.Request, clientID string) {
	report, ok := s.engine.Report(clientID)
	if !ok {
		report, _ = s.engine.EnsureReport(clientID)
	}
	writeJSON(rw, http.StatusOK, report)
}

func (s *Server) handleSetTitle(rw http.ResponseWriter, r *http.Request, clientID string) {
	var req titleRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == nil {
		writeError(rw, http.StatusBadRequest, "title is required")
		return
	}
	report, _ := s.engine.SetTitle(clientID, *req.Title)
	writeJSON(rw, http.StatusOK, report)
}

func (s *Server) handleAddItem(rw http.ResponseWriter, r *http.Request, clientID string) {
	var req addItemRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if grid.EmptySpec(req.Spec) {
		writeError(rw, http.StatusBadRequest, "spec is required")
		return
	}
	if (req.Row == nil) != (req.Col == nil) {
		writeError(rw, http.StatusBadRequest, "row and col must be given together")
		return
	}

	span := grid.DefaultSpan
	if req.Span != nil {
		span = toInt(*req.Span)
	}

	var (
		report  grid.Report
		applied bool
	)
	if req.Row != nil {
		report, applied = s.engine.AddItemAt(clientID, req.Spec, span, toInt(*req.Row), toInt(*req.Col))
	} else {
		report, applied = s.engine.AddItem(clientID, req.Spec, span)
	}
	if !applied || len(report.Items) == 0 {
		writeError(rw, http.StatusBadRequest, "item was not added")
		return
	}
	writeJSON(rw, http.StatusCreated, addItemResponse{
		Item:   report.Items[len(report.Items)-1],
		Report: report,
	})
}

func (s *Server) handlePatchItem(rw http.ResponseWriter, r *http.Request, clientID string) {
	itemID := r.PathValue("itemID")
	var req patchItemRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if req.Spec != nil && grid.EmptySpec(req.Spec) {
		writeError(rw, http.StatusBadRequest, "spec must not be null")
		return
	}

	report, _ := s.engine.Report(clientID)
	if report.Find(itemID) < 0 {
		writeError(rw, http.StatusNotFound, "item not found")
		return
	}

	if req.Spec != nil {
		report, _ = s.engine.SetSpec(clientID, itemID, req.Spec)
	}
	if req.Span != nil {
		report, _ = s.engine.SetSpan(clientID, itemID, toInt(*req.Span))
	}
	if req.Row != nil || req.Col != nil {
		// A missing coordinate keeps the card's current one.
		idx := report.Find(itemID)
		if idx < 0 {
			writeError(rw, http.StatusNotFound, "item not found")
			return
		}
		row, col := report.Items[idx].Row, report.Items[idx].Col
		if req.Row != nil {
			row = toInt(*req.Row)
		}
		if req.Col != nil {
			col = toInt(*req.Col)
		}
		report, _ = s.engine.PlaceItem(clientID, itemID, row, col)
	}
	writeJSON(rw, http.StatusOK, report)
}

func (s *Server) handleRemoveItem(rw http.ResponseWriter, r *http.Request, clientID string) {
	report, applied := s.engine.RemoveItem(clientID, r.PathValue("itemID"))
	if !applied {
		writeError(rw, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(rw, http.StatusOK, report)
}

func (s *Server) handleReorder(rw http.ResponseWriter, r *http.Request, clientID string) {
	var req reorderRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	report, _ := s.engine.Report(clientID)
	if report.Find(req.From) < 0 || report.Find(req.To) < 0 {
		writeError(rw, http.StatusNotFound, "item not found")
		return
	}
	report, _ = s.engine.ReorderItems(clientID, req.From, req.To)
	writeJSON(rw, http.StatusOK, report)
}
