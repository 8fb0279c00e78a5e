package api

import (
	"net/http"
	"strconv"

	"github.com/hackgods/handyman-booking/internal/booking"
)

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListServices(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ServiceResponse, 0, len(list))
	for i := range list {
		out = append(out, toServiceResponse(&list[i]))
	}
	writeData(w, http.StatusOK, out)
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	svc, err := h.svc.GetService(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toServiceResponse(svc))
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	query := booking.ProviderQuery{
		Sort:   booking.ProviderSort(q.Get("sort")),
		Search: q.Get("q"),
	}
	verr := &booking.ValidationError{Fields: map[string]string{}}
	query.Lat = parseFloatParam(q.Get("lat"), "lat", verr)
	query.Lng = parseFloatParam(q.Get("lng"), "lng", verr)
	if len(verr.Fields) > 0 {
		h.fail(w, r, verr)
		return
	}

	list, err := h.svc.ListProvidersForService(r.Context(), actorOf(r), id, query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProviderResponse, 0, len(list))
	for i := range list {
		out = append(out, toProviderResponse(&list[i].ProviderProfile, list[i].DistanceKm))
	}
	writeData(w, http.StatusOK, out)
}

func parseFloatParam(raw, name string, verr *booking.ValidationError) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		verr.Fields[name] = "must be a number"
		return nil
	}
	return &v
}

func (h *handlers) createService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	svc, err := h.svc.CreateService(r.Context(), actorOf(r), serviceInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toServiceResponse(svc))
}

func (h *handlers) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	svc, err := h.svc.UpdateService(r.Context(), actorOf(r), id, serviceInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toServiceResponse(svc))
}

func serviceInput(req ServiceRequest) booking.ServiceInput {
	return booking.ServiceInput{
		Name:        req.Name,
		Description: req.Description,
		BaseFee:     req.BaseFee,
		ImageURL:    req.ImageURL,
	}
}

func (h *handlers) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.DashboardStats(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDashboardStatsResponse(stats))
}

func (h *handlers) bookingsByLocation(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.BookingsByLocation(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]LocationStatsResponse, 0, len(list))
	for _, l := range list {
		out = append(out, LocationStatsResponse{Location: l.Location, Total: l.Total, ByStatus: histogram(l.ByStatus)})
	}
	writeData(w, http.StatusOK, out)
}
