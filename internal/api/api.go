// Package api exposes the Mutation API: add_bridge, add_container_iface,
// add_veth_pair. Validates each payload, applies it immediately to the
// live host under the reconciler's Mutation Lock, then folds it into the
// Desired-State Store so later reconciliation cycles stay aware of it.
// Routing only; request parsing and JSON (de)serialization are the thin
// transport layer this package exists to keep thin.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/reconciler"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "api")

// Server binds the Mutation API to an Engine and its Store.
type Server struct {
	Engine *reconciler.Engine
}

func New(engine *reconciler.Engine) *Server {
	return &Server{Engine: engine}
}

// Router builds the gorilla/mux router for the daemon's HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/add_bridge", s.handleAddBridge).Methods(http.MethodPost)
	r.HandleFunc("/add_container_iface", s.handleAddContainerIface).Methods(http.MethodPost)
	r.HandleFunc("/add_veth_pair", s.handleAddVethPair).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return r
}

type wireVlan struct {
	Vlan   string `json:"vlan,omitempty"`
	Trunk  string `json:"trunk,omitempty"`
	Native string `json:"native,omitempty"`
}

type addBridgeRequest struct {
	BridgeName string `json:"bridge_name"`
	BridgeInfo struct {
		IPAddress  string `json:"ipaddress,omitempty"`
		IP6Address string `json:"ip6address,omitempty"`
		IPRange    string `json:"iprange,omitempty"`
		IP6Range   string `json:"ip6range,omitempty"`
		Parents    []struct {
			Iface string `json:"iface"`
			wireVlan
		} `json:"parents"`
	} `json:"bridge_info"`
}

func (s *Server) handleAddBridge(w http.ResponseWriter, r *http.Request) {
	var req addBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BridgeName == "" {
		writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "bridge_name is required"))
		return
	}

	b := &config.Bridge{
		IPv4Addr:  req.BridgeInfo.IPAddress,
		IPv6Addr:  req.BridgeInfo.IP6Address,
		IPv4Range: req.BridgeInfo.IPRange,
		IPv6Range: req.BridgeInfo.IP6Range,
	}
	seen := map[string]bool{}
	for _, p := range req.BridgeInfo.Parents {
		if seen[p.Iface] {
			writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "duplicate parent %q", p.Iface))
			return
		}
		seen[p.Iface] = true
		vm, err := config.ParseVlanFields(p.Vlan, p.Trunk, p.Native)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		b.Parents = append(b.Parents, config.Parent{Iface: p.Iface, Vlan: vm})
	}

	s.Engine.Lock.Lock()
	defer s.Engine.Lock.Unlock()

	if err := s.Engine.ApplyBridge(req.BridgeName, b); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Engine.Store.AddBridge(req.BridgeName, b)
	_ = s.Engine.Ledger.Save()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "bridge_name": req.BridgeName})
}

type addContainerIfaceRequest struct {
	ContainerID   string `json:"container_id"`
	ContainerInfo struct {
		Iface      string `json:"iface"`
		Bridge     string `json:"bridge"`
		IPAddress  string `json:"ipaddress,omitempty"`
		IP6Address string `json:"ip6address,omitempty"`
		Gateway    string `json:"gateway,omitempty"`
		Gateway6   string `json:"gateway6,omitempty"`
		MACAddress string `json:"macaddress,omitempty"`
		wireVlan
	} `json:"container_info"`
}

func (s *Server) handleAddContainerIface(w http.ResponseWriter, r *http.Request) {
	var req addContainerIfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ContainerID == "" || req.ContainerInfo.Iface == "" || req.ContainerInfo.Bridge == "" {
		writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "container_id, iface and bridge are required"))
		return
	}

	vm, err := config.ParseVlanFields(req.ContainerInfo.Vlan, req.ContainerInfo.Trunk, req.ContainerInfo.Native)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ci := &config.ContainerInterface{
		Container: req.ContainerID,
		Iface:     req.ContainerInfo.Iface,
		Bridge:    req.ContainerInfo.Bridge,
		IPv4:      req.ContainerInfo.IPAddress,
		IPv6:      req.ContainerInfo.IP6Address,
		Gateway:   req.ContainerInfo.Gateway,
		Gateway6:  req.ContainerInfo.Gateway6,
		MAC:       req.ContainerInfo.MACAddress,
		Vlan:      vm,
	}

	s.Engine.Lock.Lock()
	defer s.Engine.Lock.Unlock()

	// the ledger's *_hosts maps key reservations by holder name, and a
	// bridge is a holder under its own name same as a container; reject the
	// collision here rather than let a container silently steal or corrupt
	// the bridge's own address reservation.
	if _, collides := s.Engine.Store.Bridges[ci.Container]; collides {
		writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "container_id %q collides with an existing bridge name", ci.Container))
		return
	}

	for _, existing := range s.Engine.Store.Containers[ci.Container] {
		if existing.Iface == ci.Iface {
			writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "interface %q already exists on container %q", ci.Iface, ci.Container))
			return
		}
	}

	if err := s.Engine.ApplyContainerIface(ci); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Engine.Store.AddContainerIface(ci)
	_ = s.Engine.Ledger.Save()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "container_id": req.ContainerID})
}

type addVethPairRequest struct {
	VethPairID   string `json:"veth_pair_id"`
	VethPairInfo struct {
		On    string `json:"on"`
		Map   string `json:"map,omitempty"`
		Trunk string `json:"trunk,omitempty"`
	} `json:"veth_pair_info"`
}

func (s *Server) handleAddVethPair(w http.ResponseWriter, r *http.Request) {
	var req addVethPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.VethPairID == "" || req.VethPairInfo.On == "" {
		writeError(w, http.StatusBadRequest, rerr.New(rerr.ValidationFailed, "veth_pair_id and on are required"))
		return
	}
	if len(req.VethPairID) > 8 {
		writeError(w, http.StatusBadRequest, rerr.New(rerr.BadPrefix, "veth prefix %q exceeds 8 characters", req.VethPairID))
		return
	}

	vlanMap := req.VethPairInfo.Map
	if vlanMap == "" {
		vlanMap = ":"
	}
	v := &config.VethPair{
		Prefix:   req.VethPairID,
		OnBridge: req.VethPairInfo.On,
		VlanMap:  vlanMap,
		Trunk:    req.VethPairInfo.Trunk == "yes",
	}

	s.Engine.Lock.Lock()
	defer s.Engine.Lock.Unlock()

	if err := s.Engine.ApplyVethPair(v); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Engine.Store.AddVethPair(v)
	_ = s.Engine.Ledger.Save()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "veth_pair_id": req.VethPairID})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failed": s.Engine.Ledger.Failed(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.WithError(err).WithField("status", status).Warn("request failed")
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}
