package mockapi

import (
	"cmp"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/raine/rentals-client/internal/rentals"
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return false
	}
	return true
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "")
}

// propertyLocked returns the property only when userID owns it.
func (s *Server) propertyLocked(userID, id string) (*rentals.Property, bool) {
	p, ok := s.properties[id]
	if !ok || s.owners[id] != userID {
		return nil, false
	}
	return p, true
}

func (s *Server) roomLocked(userID, id string) (*rentals.Room, bool) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, false
	}
	if _, ok := s.propertyLocked(userID, room.PropertyID); !ok {
		return nil, false
	}
	return room, true
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			writeJSON(w, http.StatusOK, userBody(u))
			return
		}
	}
	notFound(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var d rentals.Dashboard
	for id, owner := range s.owners {
		if owner != userID {
			continue
		}
		d.PropertyCount++
		for _, l := range s.leases {
			if l.PropertyID == id && l.Active() {
				d.ActiveLeases++
				d.MonthlyIncome += l.MonthlyRent
			}
		}
		for _, dmg := range s.damages {
			if dmg.PropertyID == id && !dmg.Repaired {
				d.OpenDamages++
			}
		}
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []rentals.Property{}
	for id, p := range s.properties {
		if s.owners[id] == userID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b rentals.Property) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var in rentals.PropertyInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	p := &rentals.Property{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Address:     in.Address,
		City:        in.City,
		MonthlyRent: in.MonthlyRent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.properties[p.ID] = p
	s.owners[p.ID] = userIDFrom(r)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.propertyLocked(userIDFrom(r), mux.Vars(r)["id"])
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	var in rentals.PropertyInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.propertyLocked(userIDFrom(r), mux.Vars(r)["id"])
	if !ok {
		notFound(w)
		return
	}
	p.Name = in.Name
	p.Address = in.Address
	p.City = in.City
	p.MonthlyRent = in.MonthlyRent
	p.UpdatedAt = s.now().UTC()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	delete(s.properties, id)
	delete(s.owners, id)
	for lid, l := range s.leases {
		if l.PropertyID == id {
			delete(s.leases, lid)
		}
	}
	for rid, room := range s.rooms {
		if room.PropertyID != id {
			continue
		}
		for fid, f := range s.furniture {
			if f.RoomID == rid {
				delete(s.furniture, fid)
			}
		}
		delete(s.rooms, rid)
	}
	for did, d := range s.damages {
		if d.PropertyID == id {
			delete(s.damages, did)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	out := []rentals.Lease{}
	for _, l := range s.leases {
		if l.PropertyID == id {
			out = append(out, *l)
		}
	}
	slices.SortFunc(out, func(a, b rentals.Lease) int {
		return cmp.Or(a.StartDate.Compare(b.StartDate), cmp.Compare(a.ID, b.ID))
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateLease(w http.ResponseWriter, r *http.Request) {
	var in rentals.LeaseInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.TenantName == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "tenantName is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	l := &rentals.Lease{
		ID:          uuid.NewString(),
		PropertyID:  id,
		TenantName:  in.TenantName,
		TenantEmail: in.TenantEmail,
		MonthlyRent: in.MonthlyRent,
		StartDate:   in.StartDate,
	}
	if l.StartDate.IsZero() {
		l.StartDate = s.now().UTC()
	}
	s.leases[l.ID] = l
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleEndLease(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[mux.Vars(r)["id"]]
	if !ok {
		notFound(w)
		return
	}
	if _, ok := s.propertyLocked(userIDFrom(r), l.PropertyID); !ok {
		notFound(w)
		return
	}
	if !l.Active() {
		writeError(w, http.StatusConflict, "conflict", "lease already ended")
		return
	}
	end := s.now().UTC()
	l.EndDate = &end
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	out := []rentals.Room{}
	for _, room := range s.rooms {
		if room.PropertyID == id {
			out = append(out, *room)
		}
	}
	slices.SortFunc(out, func(a, b rentals.Room) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in rentals.RoomInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	room := &rentals.Room{ID: uuid.NewString(), PropertyID: id, Name: in.Name, Kind: in.Kind}
	s.rooms[room.ID] = room
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListFurniture(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.roomLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	out := []rentals.Furniture{}
	for _, f := range s.furniture {
		if f.RoomID == id {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b rentals.Furniture) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddFurniture(w http.ResponseWriter, r *http.Request) {
	var in rentals.FurnitureInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.roomLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	f := &rentals.Furniture{ID: uuid.NewString(), RoomID: id, Name: in.Name, Condition: in.Condition, Quantity: in.Quantity}
	s.furniture[f.ID] = f
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListDamages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userIDFrom(r), id); !ok {
		notFound(w)
		return
	}
	out := []rentals.Damage{}
	for _, d := range s.damages {
		if d.PropertyID == id {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b rentals.Damage) int {
		return cmp.Or(a.ReportedAt.Compare(b.ReportedAt), cmp.Compare(a.ID, b.ID))
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportDamage(w http.ResponseWriter, r *http.Request) {
	var in rentals.DamageInput
	if !decodeBody(w, r, &in) {
		return
	}
	switch in.Severity {
	case rentals.SeverityMinor, rentals.SeverityModerate, rentals.SeveritySevere:
	default:
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "severity must be minor, moderate or severe")
		return
	}
	if in.Description == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "description is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID := userIDFrom(r)
	id := mux.Vars(r)["id"]
	if _, ok := s.propertyLocked(userID, id); !ok {
		notFound(w)
		return
	}
	if in.RoomID != "" {
		room, ok := s.roomLocked(userID, in.RoomID)
		if !ok || room.PropertyID != id {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "room does not belong to property")
			return
		}
	}
	d := &rentals.Damage{
		ID:          uuid.NewString(),
		PropertyID:  id,
		RoomID:      in.RoomID,
		Description: in.Description,
		Severity:    in.Severity,
		ReportedAt:  s.now().UTC(),
	}
	s.damages[d.ID] = d
	writeJSON(w, http.StatusCreated, d)
}
