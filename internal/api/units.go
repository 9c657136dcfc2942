package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bryanchriswhite/LoopCam/internal/engine"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/state"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/gorilla/mux"
)

// ActionInfo describes one action of a unit
type ActionInfo struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Togglable bool   `json:"togglable"`
	Value     *bool  `json:"value,omitempty"`
}

// UnitInfo describes one discovered unit
type UnitInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Group   string       `json:"group"`
	Order   int          `json:"order"`
	Actions []ActionInfo `json:"actions"`
}

func describe(u unit.Unit) UnitInfo {
	info := UnitInfo{
		ID:      u.ID(),
		Name:    u.Name(),
		Group:   u.Group(),
		Order:   u.Order(),
		Actions: []ActionInfo{},
	}
	for i, a := range u.Actions() {
		ai := ActionInfo{Index: i, Label: a.Label, Togglable: a.Togglable()}
		if a.Togglable() {
			v := a.Toggle.Get()
			ai.Value = &v
		}
		info.Actions = append(info.Actions, ai)
	}
	return info
}

func (s *Server) lookupUnit(w http.ResponseWriter, r *http.Request) (unit.Unit, bool) {
	id := mux.Vars(r)["id"]
	u, ok := s.units.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", unit.ErrUnknownUnit, id))
	}
	return u, ok
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	groups := make(map[string][]UnitInfo, len(s.units.Groups))
	for name, units := range s.units.Groups {
		infos := make([]UnitInfo, 0, len(units))
		for _, u := range units {
			infos = append(infos, describe(u))
		}
		groups[name] = infos
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"chain":  s.units.Chain.IDs(),
	})
}

func (s *Server) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUnit(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	actions := u.Actions()
	if err != nil || index < 0 || index >= len(actions) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unit %s has no action %s", u.ID(), mux.Vars(r)["index"]))
		return
	}

	args := unit.Args{}
	if err := decodeOptional(r, &args); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	action := actions[index]
	logger.WithComponent("api").Debug().
		Str("unit", u.ID()).
		Str("action", action.Label).
		Msg("Invoking action")
	if err := action.Handler(args); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(u))
}

func (s *Server) handleGetUnitState(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUnit(w, r)
	if !ok {
		return
	}
	st, err := u.Save()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutUnitState(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUnit(w, r)
	if !ok {
		return
	}
	st := unit.State{}
	if err := decodeOptional(r, &st); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := u.Load(st); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(u))
}

// SlotRequest names a blob file; empty means the most recent slot
type SlotRequest struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	var req SlotRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Persist(req.Path, s.units.Units); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleLoadState(w http.ResponseWriter, r *http.Request) {
	var req SlotRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mismatches, err := s.store.Restore(req.Path, s.units.Units)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrSlotNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	s.engine.SetMapping(engine.Mapping(s.units.Chain.Mapping()))

	rejected := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		rejected = append(rejected, m.Error())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "loaded",
		"rejected": rejected,
	})
}
