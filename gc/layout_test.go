package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutRegisterCheckRoundTrip(t *testing.T) {
	r := newLayoutRegistry()
	id, err := r.register("Vec2", []int{0, 8})
	require.NoError(t, err)

	gotID, err := r.idOfName("Vec2")
	require.NoError(t, err)
	require.Equal(t, id, gotID)

	checkedID, err := r.check("Vec2", []int{0, 8})
	require.NoError(t, err)
	require.Equal(t, id, checkedID)

	_, err = r.check("Vec2", []int{0, 16})
	require.Error(t, err)
}

func TestLayoutDuplicateNameFails(t *testing.T) {
	r := newLayoutRegistry()
	_, err := r.register("S", []int{0})
	require.NoError(t, err)
	_, err = r.register("S", []int{0})
	require.Error(t, err)
}

func TestLayoutUnknownNameFails(t *testing.T) {
	r := newLayoutRegistry()
	_, err := r.idOfName("Nope")
	require.Error(t, err)
	_, err = r.check("Nope", nil)
	require.Error(t, err)
}
