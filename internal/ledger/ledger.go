// Package ledger implements the persistent JSON document that tracks
// applied bridge IP ranges, host address reservations, per-parent VLAN
// state, and the consecutive-failure counter. Containers appear only as
// holders of address reservations; no other per-container record is kept. It is
// the source of truth for "did we already do this?" while the live kernel
// and OVS state remain the source of truth for "does it currently exist?".
package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ledger")

// BridgeRecord is the per-bridge ledger entry.
type BridgeRecord struct {
	IPRange      string            `json:"iprange,omitempty"`
	IP6Range     string            `json:"ip6range,omitempty"`
	IPRangeHosts map[string]string `json:"iprange_hosts,omitempty"`
	IP6RangeHosts map[string]string `json:"ip6range_hosts,omitempty"`
	ParentVlans  map[string]ParentVlanRecord `json:"parent_vlans,omitempty"`
}

// ParentVlanRecord mirrors config.VlanMode in a JSON-friendly shape so the
// ledger can detect when an applied mode needs to be torn down before a new
// one is applied (e.g. a parent moving from trunk to access).
type ParentVlanRecord struct {
	Kind   string `json:"kind,omitempty"` // "access" | "trunk" | "native" | ""
	VID    int    `json:"vid,omitempty"`
	Trunks []int  `json:"trunks,omitempty"`
}

func VlanRecordFrom(m config.VlanMode) ParentVlanRecord {
	switch m.Kind {
	case config.VlanAccess:
		return ParentVlanRecord{Kind: "access", VID: m.VID}
	case config.VlanNative:
		return ParentVlanRecord{Kind: "native", VID: m.VID}
	case config.VlanTrunk:
		return ParentVlanRecord{Kind: "trunk", Trunks: m.Trunks}
	default:
		return ParentVlanRecord{}
	}
}

func newBridgeRecord() *BridgeRecord {
	return &BridgeRecord{
		IPRangeHosts:  map[string]string{},
		IP6RangeHosts: map[string]string{},
		ParentVlans:   map[string]ParentVlanRecord{},
	}
}

// Doc is the full on-disk ledger document.
type Doc struct {
	Bridges map[string]*BridgeRecord `json:"bridges"`
	Failed  int                      `json:"failed"`
}

// Ledger wraps a Doc with disk persistence. Callers are expected to hold
// the Mutation Lock around any sequence of reads+writes that must appear
// atomic; Ledger itself does not lock.
type Ledger struct {
	path string
	doc  *Doc
}

// Open loads the ledger from path, creating an empty document if absent.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, doc: &Doc{Bridges: map[string]*BridgeRecord{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, l.doc); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}
	if l.doc.Bridges == nil {
		l.doc.Bridges = map[string]*BridgeRecord{}
	}
	return l, nil
}

// Save persists the ledger to disk.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("ledger: rename %s: %w", l.path, err)
	}
	return nil
}

// Bridge returns the ledger record for a bridge, creating one if absent.
func (l *Ledger) Bridge(name string) *BridgeRecord {
	br, ok := l.doc.Bridges[name]
	if !ok {
		br = newBridgeRecord()
		l.doc.Bridges[name] = br
	}
	if br.IPRangeHosts == nil {
		br.IPRangeHosts = map[string]string{}
	}
	if br.IP6RangeHosts == nil {
		br.IP6RangeHosts = map[string]string{}
	}
	if br.ParentVlans == nil {
		br.ParentVlans = map[string]ParentVlanRecord{}
	}
	return br
}

// HostsFor returns the reservation map for a family ("4" or "6").
func (br *BridgeRecord) HostsFor(family string) map[string]string {
	if family == "6" {
		return br.IP6RangeHosts
	}
	return br.IPRangeHosts
}

// RangeFor returns the currently-applied range for a family.
func (br *BridgeRecord) RangeFor(family string) string {
	if family == "6" {
		return br.IP6Range
	}
	return br.IPRange
}

// SetRangeFor updates the applied range for a family, clearing all
// reservations under that family (invariant I3: a range change invalidates
// every existing reservation).
func (br *BridgeRecord) SetRangeFor(family, newRange string) {
	if family == "6" {
		br.IP6Range = newRange
	} else {
		br.IPRange = newRange
	}
	log.WithField("family", family).WithField("range", newRange).Debug("range changed, clearing reservations")
	for k := range br.HostsFor(family) {
		delete(br.HostsFor(family), k)
	}
}

// HolderOf returns the holder currently reserving addr under the given
// family, or "" if unreserved.
func (br *BridgeRecord) HolderOf(family, addr string) string {
	for holder, a := range br.HostsFor(family) {
		if a == addr {
			return holder
		}
	}
	return ""
}

// Reserve records that holder now owns addr under the given family,
// clearing any prior reservation the holder had.
func (br *BridgeRecord) Reserve(family, holder, addr string) {
	br.HostsFor(family)[holder] = addr
}

// Release clears holder's reservation under the given family, if any.
func (br *BridgeRecord) Release(family, holder string) {
	delete(br.HostsFor(family), holder)
}

// IncrementFailed bumps the consecutive-failure counter.
func (l *Ledger) IncrementFailed() int {
	l.doc.Failed++
	return l.doc.Failed
}

// ResetFailed clears the consecutive-failure counter after a clean cycle.
func (l *Ledger) ResetFailed() {
	l.doc.Failed = 0
}

// Failed reports the current consecutive-failure count.
func (l *Ledger) Failed() int {
	return l.doc.Failed
}
