// Package config models the daemon's desired-state document: the set of
// bridges, container interfaces, and veth pairs the reconciler drives the
// host toward. It is loaded once from disk and mutated at runtime by the API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/raikou-net/netorch/internal/rerr"
)

// VlanModeKind tags which single VLAN mode a Parent or ContainerInterface
// carries. Collapsing vlan/trunk/native into one tagged variant makes "more
// than one mode set" a construction-time impossibility instead of a runtime
// precedence question.
type VlanModeKind int

const (
	VlanNone VlanModeKind = iota
	VlanAccess
	VlanTrunk
	VlanNative
)

// VlanMode is the single VLAN classification a port can carry.
type VlanMode struct {
	Kind   VlanModeKind
	VID    int   // Access, Native
	Trunks []int // Trunk
}

func (m VlanMode) IsSet() bool { return m.Kind != VlanNone }

// ParseVlanFields builds a VlanMode from the raw vlan/trunk/native strings
// as they arrive over JSON, rejecting more than one being non-empty and
// validating each VID against 1-4095.
func ParseVlanFields(vlan, trunk, native string) (VlanMode, error) {
	set := 0
	if vlan != "" {
		set++
	}
	if trunk != "" {
		set++
	}
	if native != "" {
		set++
	}
	if set > 1 {
		return VlanMode{}, rerr.New(rerr.ValidationFailed, "at most one of vlan/trunk/native may be set")
	}
	switch {
	case vlan != "":
		v, err := parseVID(vlan)
		if err != nil {
			return VlanMode{}, err
		}
		return VlanMode{Kind: VlanAccess, VID: v}, nil
	case native != "":
		v, err := parseVID(native)
		if err != nil {
			return VlanMode{}, err
		}
		return VlanMode{Kind: VlanNative, VID: v}, nil
	case trunk != "":
		vids, err := parseVIDList(trunk)
		if err != nil {
			return VlanMode{}, err
		}
		return VlanMode{Kind: VlanTrunk, Trunks: vids}, nil
	default:
		return VlanMode{}, nil
	}
}

func parseVID(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, rerr.Wrap(rerr.ValidationFailed, err, "VLAN %q should be a numeric string", s)
	}
	if v < 1 || v > 4095 {
		return 0, rerr.New(rerr.ValidationFailed, "VLAN %d should be between 1 and 4095", v)
	}
	return v, nil
}

func parseVIDList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	vids := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := parseVID(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		vids = append(vids, v)
	}
	return vids, nil
}

// TrunksString renders the trunk list the way ovs-vsctl/bridge(8) expect it.
func (m VlanMode) TrunksString() string {
	ss := make([]string, len(m.Trunks))
	for i, v := range m.Trunks {
		ss[i] = strconv.Itoa(v)
	}
	return strings.Join(ss, ",")
}

// Parent is an uplink interface attached to a bridge.
type Parent struct {
	Iface string
	Vlan  VlanMode
}

// Bridge is a single layer-2 switch instance, OVS or Linux-native.
type Bridge struct {
	IPv4Addr  string
	IPv6Addr  string
	IPv4Range string
	IPv6Range string
	Parents   []Parent
}

// ContainerInterface is one interface to attach inside a container.
type ContainerInterface struct {
	Container string
	Iface     string
	Bridge    string
	IPv4      string // "" = auto-allocate, "No-IP" = skip
	IPv6      string
	Gateway   string
	Gateway6  string
	MAC       string
	Vlan      VlanMode
}

// VethPair describes a veth pair and how each end attaches to a bridge.
type VethPair struct {
	Prefix  string
	OnBridge string
	VlanMap string // "source:dest", dest may be empty (dangling)
	Trunk   bool
}

func (v VethPair) SourceDest() (string, string) {
	parts := strings.SplitN(v.VlanMap, ":", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Store is the in-memory Desired-State Store: loaded once from disk, then
// mutated by the API under the reconciler's Mutation Lock.
type Store struct {
	mu         sync.Mutex
	Bridges    map[string]*Bridge
	Containers map[string][]*ContainerInterface
	VethPairs  map[string]*VethPair
}

func NewStore() *Store {
	return &Store{
		Bridges:    map[string]*Bridge{},
		Containers: map[string][]*ContainerInterface{},
		VethPairs:  map[string]*VethPair{},
	}
}

// wireBridge / wireIface / wireVeth mirror the JSON document shape read from
// /root/config.json; VLAN fields are flattened on load into a VlanMode.
type wireVlan struct {
	Vlan   string `json:"vlan,omitempty"`
	Trunk  string `json:"trunk,omitempty"`
	Native string `json:"native,omitempty"`
}

type wireParent struct {
	Iface string `json:"iface"`
	wireVlan
}

type wireBridge struct {
	IPAddress  string       `json:"ipaddress,omitempty"`
	IP6Address string       `json:"ip6address,omitempty"`
	IPRange    string       `json:"iprange,omitempty"`
	IP6Range   string       `json:"ip6range,omitempty"`
	Parents    []wireParent `json:"parents,omitempty"`
}

type wireContainerIface struct {
	Iface    string `json:"iface"`
	Bridge   string `json:"bridge"`
	IPv4     string `json:"ipaddress,omitempty"`
	IPv6     string `json:"ip6address,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Gateway6 string `json:"gateway6,omitempty"`
	MAC      string `json:"macaddress,omitempty"`
	wireVlan
}

type wireVethPair struct {
	On    string `json:"on"`
	Map   string `json:"map,omitempty"`
	Trunk string `json:"trunk,omitempty"`
}

type wireDoc struct {
	Bridge    map[string]wireBridge            `json:"bridge"`
	Container map[string][]wireContainerIface  `json:"container"`
	VethPairs map[string]wireVethPair          `json:"veth_pairs"`
}

// Load reads the desired-state document from path and builds a Store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc wireDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	s := NewStore()
	for name, wb := range doc.Bridge {
		b, err := bridgeFromWire(wb)
		if err != nil {
			return nil, fmt.Errorf("config: bridge %q: %w", name, err)
		}
		s.Bridges[name] = b
	}
	for container, ifaces := range doc.Container {
		for _, wi := range ifaces {
			ci, err := ifaceFromWire(container, wi)
			if err != nil {
				return nil, fmt.Errorf("config: container %q iface %q: %w", container, wi.Iface, err)
			}
			s.Containers[container] = append(s.Containers[container], ci)
		}
	}
	for prefix, wv := range doc.VethPairs {
		s.VethPairs[prefix] = &VethPair{
			Prefix:   prefix,
			OnBridge: wv.On,
			VlanMap:  orDefault(wv.Map, ":"),
			Trunk:    wv.Trunk == "yes",
		}
	}
	return s, nil
}

func bridgeFromWire(wb wireBridge) (*Bridge, error) {
	b := &Bridge{
		IPv4Addr:  wb.IPAddress,
		IPv6Addr:  wb.IP6Address,
		IPv4Range: wb.IPRange,
		IPv6Range: wb.IP6Range,
	}
	for _, wp := range wb.Parents {
		vm, err := ParseVlanFields(wp.Vlan, wp.Trunk, wp.Native)
		if err != nil {
			return nil, err
		}
		b.Parents = append(b.Parents, Parent{Iface: wp.Iface, Vlan: vm})
	}
	return b, nil
}

func ifaceFromWire(container string, wi wireContainerIface) (*ContainerInterface, error) {
	vm, err := ParseVlanFields(wi.Vlan, wi.Trunk, wi.Native)
	if err != nil {
		return nil, err
	}
	return &ContainerInterface{
		Container: container,
		Iface:     wi.Iface,
		Bridge:    wi.Bridge,
		IPv4:      wi.IPv4,
		IPv6:      wi.IPv6,
		Gateway:   wi.Gateway,
		Gateway6:  wi.Gateway6,
		MAC:       wi.MAC,
		Vlan:      vm,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// AddBridge merges a new/updated bridge into the store (API mutation path):
// address and range fields replace the stored ones, and the parent list is
// extended, a parent with the same iface replacing the earlier entry.
func (s *Store) AddBridge(name string, b *Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.Bridges[name]; ok {
		respecified := map[string]bool{}
		for _, p := range b.Parents {
			respecified[p.Iface] = true
		}
		var merged []Parent
		for _, p := range old.Parents {
			if !respecified[p.Iface] {
				merged = append(merged, p)
			}
		}
		b.Parents = append(merged, b.Parents...)
	}
	s.Bridges[name] = b
}

// AddContainerIface appends an interface spec to a container's list.
func (s *Store) AddContainerIface(ci *ContainerInterface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Containers[ci.Container] = append(s.Containers[ci.Container], ci)
}

// AddVethPair merges a new/updated veth pair into the store.
func (s *Store) AddVethPair(v *VethPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VethPairs[v.Prefix] = v
}

// Snapshot returns copies of the three maps for the reconciler to range
// over without holding the store lock during the (slow) apply phase.
func (s *Store) Snapshot() (map[string]*Bridge, map[string][]*ContainerInterface, map[string]*VethPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bridges := make(map[string]*Bridge, len(s.Bridges))
	for k, v := range s.Bridges {
		bridges[k] = v
	}
	containers := make(map[string][]*ContainerInterface, len(s.Containers))
	for k, v := range s.Containers {
		containers[k] = v
	}
	veths := make(map[string]*VethPair, len(s.VethPairs))
	for k, v := range s.VethPairs {
		veths[k] = v
	}
	return bridges, containers, veths
}

// Env holds process-wide configuration read from the environment once at
// startup.
type Env struct {
	UseLinuxBridge bool
	Debug          bool
	ConfigPath     string
	LedgerPath     string
}

// EnvFromOS reads USE_LINUX_BRIDGE, DEBUG, CONFIG_PATH, LEDGER_PATH.
func EnvFromOS() Env {
	return Env{
		UseLinuxBridge: truthy(os.Getenv("USE_LINUX_BRIDGE")),
		Debug:          os.Getenv("DEBUG") == "yes",
		ConfigPath:     orDefault(os.Getenv("CONFIG_PATH"), "/root/config.json"),
		LedgerPath:     orDefault(os.Getenv("LEDGER_PATH"), "/tmp/db.json"),
	}
}

func truthy(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1"
}
