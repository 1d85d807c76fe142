package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, f *hostdriver.Fake) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	lg, err := ledger.Open(path)
	require.NoError(t, err)
	store := config.NewStore()
	engine := reconciler.New(hostdriver.New(f), false, store, lg, path)
	return New(engine)
}

func doPost(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleAddBridge_Success(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"ovs-vsctl", "br-exists", "br0"}, hostdriver.Result{ExitCode: 1})
	s := newTestServer(t, f)

	rec := doPost(t, s, "/add_bridge", map[string]interface{}{
		"bridge_name": "br0",
		"bridge_info": map[string]interface{}{"ipaddress": "10.1.0.1/24"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "success")
}

func TestHandleAddBridge_MissingNameRejected(t *testing.T) {
	f := hostdriver.NewFake()
	s := newTestServer(t, f)

	rec := doPost(t, s, "/add_bridge", map[string]interface{}{
		"bridge_info": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddBridge_ConflictingVlanFieldsRejected(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"ovs-vsctl", "br-exists", "br0"}, hostdriver.Result{ExitCode: 1})
	s := newTestServer(t, f)

	rec := doPost(t, s, "/add_bridge", map[string]interface{}{
		"bridge_name": "br0",
		"bridge_info": map[string]interface{}{
			"parents": []map[string]interface{}{
				{"iface": "eth1", "vlan": "10", "trunk": "20,30"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddContainerIface_DuplicateIfaceRejected(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{})
	s := newTestServer(t, f)

	body := map[string]interface{}{
		"container_id": "c1",
		"container_info": map[string]interface{}{
			"iface":  "eth0",
			"bridge": "br0",
		},
	}
	rec := doPost(t, s, "/add_container_iface", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := doPost(t, s, "/add_container_iface", body)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHandleAddContainerIface_BridgeNameCollisionRejected(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"ovs-vsctl", "br-exists", "c1"}, hostdriver.Result{ExitCode: 1})
	s := newTestServer(t, f)

	rec := doPost(t, s, "/add_bridge", map[string]interface{}{"bridge_name": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := doPost(t, s, "/add_container_iface", map[string]interface{}{
		"container_id": "c1",
		"container_info": map[string]interface{}{
			"iface":  "eth0",
			"bridge": "br0",
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHandleAddVethPair_LongPrefixRejected(t *testing.T) {
	f := hostdriver.NewFake()
	s := newTestServer(t, f)

	rec := doPost(t, s, "/add_veth_pair", map[string]interface{}{
		"veth_pair_id": "123456789",
		"veth_pair_info": map[string]interface{}{"on": "br0"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	f := hostdriver.NewFake()
	s := newTestServer(t, f)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
