package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/internal/httputil"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/internal/subscription"
)

type statusResponse struct {
	subscription.Info
	Notifications notify.Stats `json:"notifications"`
	Clients       int          `json:"ws_clients"`
}

type sessionBody struct {
	Address string `json:"address"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		Info:          s.deps.Status.Info(),
		Notifications: s.deps.Store.Stats(),
		Clients:       s.deps.Hub.Clients(),
	})
}

// reconnect starts a new connection cycle when the stream is idle or has
// exhausted its retries. The dial runs in the background.
func (s *Server) reconnect(w http.ResponseWriter, _ *http.Request) {
	info := s.deps.Status.Info()
	if !info.State.CanStart() {
		httputil.WriteError(w, http.StatusConflict, "chain stream is "+info.State.String())
		return
	}
	go s.deps.Stream.Start(s.baseContext())
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, sessionBody{Address: s.deps.Session.ActiveUser()})
}

// putSession switches the active user. An empty address signs out.
func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	var body sessionBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.Address != "" {
		if err := chain.ValidateAddress(body.Address); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	s.deps.Session.SetActiveUser(body.Address)
	httputil.WriteJSON(w, http.StatusOK, body)
}

// address extracts and validates the {address} path variable.
func address(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := mux.Vars(r)["address"]
	if err := chain.ValidateAddress(addr); err != nil {
		httputil.BadRequest(w, err.Error())
		return "", false
	}
	return addr, true
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(s.deps.Store.Notifications(addr)))
}

func (s *Server) clearNotifications(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	s.deps.Store.Clear(addr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(s.deps.Store.History(addr)))
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		httputil.BadRequest(w, "invalid notification index")
		return
	}
	n, err := s.deps.Store.MarkRead(addr, index)
	if errors.Is(err, notify.ErrIndexOutOfRange) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.deps.Store.Preferences(addr))
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	prefs := s.deps.Store.Preferences(addr)
	if !httputil.DecodeJSON(w, r, &prefs) {
		return
	}
	s.deps.Store.SetPreferences(addr, prefs)
	httputil.WriteJSON(w, http.StatusOK, prefs)
}

func nonNil(list []notify.Notification) []notify.Notification {
	if list == nil {
		return []notify.Notification{}
	}
	return list
}
