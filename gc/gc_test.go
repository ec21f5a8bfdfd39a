package gc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocAndRootLifecycle(t *testing.T) {
	c := New(DefaultConfig())
	addr, err := c.NewString("hello", FlagNone)
	require.NoError(t, err)
	require.True(t, c.IsRoot(addr))
	require.Equal(t, 1, c.ObjectCount())

	require.NoError(t, c.RemoveRoot(addr))
	require.NoError(t, c.Run())
	require.Equal(t, 0, c.ObjectCount())
}

func TestTemporarySurvivesCycle(t *testing.T) {
	c := New(DefaultConfig())
	addr, err := c.NewString("x", FlagTemporary)
	require.NoError(t, err)
	require.True(t, c.IsTemporary(addr))

	require.NoError(t, c.Run())
	require.Equal(t, 1, c.ObjectCount(), "temporary must survive a cycle while still registered")

	require.NoError(t, c.RemoveTemporary(addr))
	require.NoError(t, c.Run())
	require.Equal(t, 0, c.ObjectCount())
}

func TestRawStructReachabilityThroughLayout(t *testing.T) {
	c := New(DefaultConfig())
	layoutID, err := c.RegisterTypeLayout("Node", []int{0})
	require.NoError(t, err)

	// child is referenced only through parent's field 0.
	child, err := c.NewString("leaf", FlagTemporary)
	require.NoError(t, err)

	parent, err := c.NewRaw(layoutID, 8, 8, FlagNone)
	require.NoError(t, err)
	parentObj, err := c.Object(parent)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(parentObj.Data, child)
	require.NoError(t, c.RemoveTemporary(child))

	require.NoError(t, c.Run())
	require.True(t, c.IsRoot(parent))
	require.Equal(t, 2, c.ObjectCount(), "child must survive via parent's layout offset")

	require.NoError(t, c.RemoveRoot(parent))
	require.NoError(t, c.Run())
	require.Equal(t, 0, c.ObjectCount(), "both parent and unreachable child must be swept")
}

func TestUnreachableObjectsAreSwept(t *testing.T) {
	c := New(DefaultConfig())
	addr, err := c.NewString("gone", FlagTemporary)
	require.NoError(t, err)
	require.NoError(t, c.RemoveTemporary(addr))

	require.NoError(t, c.Run())
	require.Equal(t, 0, c.ObjectCount())
}

func TestAddPersistentSliceReachability(t *testing.T) {
	c := New(DefaultConfig())
	layoutID, err := c.RegisterTypeLayout("Host", []int{0})
	require.NoError(t, err)

	child, err := c.NewString("kept-alive", FlagTemporary)
	require.NoError(t, err)

	hostMem := make([]byte, 8)
	binary.LittleEndian.PutUint64(hostMem, child)

	paddr, err := c.AddPersistentSlice(hostMem, layoutID)
	require.NoError(t, err)
	require.NoError(t, c.RemoveTemporary(child))

	require.NoError(t, c.Run())
	require.Equal(t, 1, c.ObjectCount(), "child reachable only via persistent host memory")

	require.NoError(t, c.RemovePersistent(paddr))
	require.NoError(t, c.Run())
	require.Equal(t, 0, c.ObjectCount())
}

func TestRemoveRootUnknownFails(t *testing.T) {
	c := New(DefaultConfig())
	require.Error(t, c.RemoveRoot(0xdead))
}

func TestAddRootNullFails(t *testing.T) {
	c := New(DefaultConfig())
	require.Error(t, c.AddRoot(0))
}

func TestThresholdTriggersAutomaticRun(t *testing.T) {
	cfg := Config{MinThresholdBytes: 16, ThresholdBytes: 16, GrowthFactor: 2.0}
	c := New(cfg)
	a, err := c.NewString("12345678901234567890", FlagTemporary) // > 16 bytes
	require.NoError(t, err)
	require.NoError(t, c.RemoveTemporary(a))

	// Next allocation should trigger a cycle first (bytes_since_gc >= threshold).
	_, err = c.NewString("y", FlagTemporary)
	require.NoError(t, err)
	require.Equal(t, 1, c.ObjectCount(), "prior unreachable string should have been swept by the triggered cycle")
}
