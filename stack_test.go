package lon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ segs map[string][]byte }

func newMemStore() *memStore { return &memStore{segs: map[string][]byte{}} }

func (m *memStore) ReadSegment(name string) ([]byte, error) { return m.segs[name], nil }
func (m *memStore) WriteSegment(name string, data []byte) error {
	m.segs[name] = append([]byte(nil), data...)
	return nil
}

func TestStackInitLoadsDefaultsOnEmptyStore(t *testing.T) {
	clk := int64(0)
	st := NewStack(func() int64 { return clk }, newMemStore(), 8, false)
	st.Init(ResetPowerUp)
	assert.Equal(t, StateAppUnconfig, st.Config().State)
}

func TestConfigChecksumChangesWithDomainSubnet(t *testing.T) {
	var c Config
	c.Domains[0].Subnet = 1
	sum1 := c.checksum()
	c.Domains[0].Subnet = 2
	sum2 := c.checksum()
	assert.NotEqual(t, sum1, sum2)
}

func TestNetworkImageRoundTripDetectsTornWrite(t *testing.T) {
	store := newMemStore()
	p := NewPersistence(store)

	cfg := Config{State: StateConfigured, UID: [6]byte{1, 2, 3, 4, 5, 6}}
	p.MarkDirty(0)
	p.Service(PersistentFlushGuardTimeout, &cfg)

	var loaded Config
	require.NoError(t, p.LoadNetworkImage(&loaded))
	assert.Equal(t, cfg.UID, loaded.UID)

	raw := store.segs[segmentNetworkImage]
	store.segs[segmentNetworkImage] = raw[:len(raw)-1] // truncate: simulate torn write

	var corrupt Config
	assert.ErrorIs(t, p.LoadNetworkImage(&corrupt), ErrTornWrite)
}
