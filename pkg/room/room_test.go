package room

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"ordered", "alice", "bob", "alice_bob"},
		{"reversed", "bob", "alice", "alice_bob"},
		{"byte order not locale", "Zed", "amy", "Zed_amy"},
		{"same prefix", "ann", "anna", "ann_anna"},
		{"self", "carol", "carol", "carol_carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Derive(tt.a, tt.b))
			require.Equal(t, Derive(tt.a, tt.b), Derive(tt.b, tt.a))
		})
	}
}

func TestResolve(t *testing.T) {
	require.Equal(t, "lobby", Resolve("  lobby ", "bob", "alice"))
	require.Equal(t, "alice_bob", Resolve("   ", "bob", "alice"))
	require.Equal(t, "alice_bob", Resolve("", "bob", "alice"))
	require.Equal(t, "", Resolve("", "bob", ""))
}
