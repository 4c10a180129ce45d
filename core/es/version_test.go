package es

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion_JSONIsANumber(t *testing.T) {
	data, err := json.Marshal(struct {
		V Version `json:"v"`
	}{V: 7})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":7}`, string(data))

	var v Version
	require.NoError(t, json.Unmarshal([]byte("1234"), &v))
	require.Equal(t, Version(1235), v.Next())
}

func TestVersion_SlogAttr(t *testing.T) {
	require.Equal(t, slog.Uint64("version", 3), Version(3).SlogAttr())
	require.Equal(t, "expected", Version(3).SlogAttrWithKey("expected").Key)
}

func TestCrossesInterval(t *testing.T) {
	cases := []struct {
		from, to Version
		every    int
		want     bool
	}{
		{4, 5, 5, true},
		{5, 9, 5, false},
		{9, 10, 5, true},
		{3, 12, 5, true},
		{0, 4, 5, false},
		{0, 10, 0, false},
		{10, 10, 5, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, crossesInterval(c.from, c.to, c.every), "%d -> %d every %d", c.from, c.to, c.every)
	}
}
