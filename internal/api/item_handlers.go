package api

import (
	"net/http"

	"github.com/odvcencio/issuestream/internal/models"
)

const maxRefreshItems = 500

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "item id")
	if !ok {
		return
	}
	it, err := s.items.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, it)
}

func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "item id")
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		it  *models.Item
		err error
	)
	switch r.PathValue("action") {
	case "read":
		it, err = s.items.MarkRead(ctx, id)
	case "unread":
		it, err = s.items.MarkUnread(ctx, id)
	case "archive":
		it, err = s.items.SetArchived(ctx, id, true)
	case "unarchive":
		it, err = s.items.SetArchived(ctx, id, false)
	case "bookmark":
		it, err = s.items.SetBookmarked(ctx, id, true)
	case "unbookmark":
		it, err = s.items.SetBookmarked(ctx, id, false)
	case "subscribe":
		sub, err := s.items.Subscribe(ctx, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusOK, sub)
		return
	case "unsubscribe":
		if err := s.items.Unsubscribe(ctx, id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		jsonError(w, "unknown item action", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, it)
}

type refreshItemsRequest struct {
	IDs []int64 `json:"ids"`
}

type refreshItemsResponse struct {
	Updated []int64 `json:"updated"`
	Deleted []int64 `json:"deleted"`
}

func (s *Server) handleRefreshItems(w http.ResponseWriter, r *http.Request) {
	var req refreshItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		jsonError(w, "ids are required", http.StatusBadRequest)
		return
	}
	if len(req.IDs) > maxRefreshItems {
		jsonError(w, "too many ids", http.StatusBadRequest)
		return
	}
	res, err := s.items.Refresh(r.Context(), req.IDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := refreshItemsResponse{Updated: res.Merged.UpdatedIDs, Deleted: res.Deleted}
	if resp.Updated == nil {
		resp.Updated = []int64{}
	}
	if resp.Deleted == nil {
		resp.Deleted = []int64{}
	}
	jsonResponse(w, http.StatusOK, resp)
}
