package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCommandsRegistered(t *testing.T) {
	for _, name := range []string{"install", "uninstall", "restart"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.RunE, name)
	}
}

func TestStunFlagBindsOptions(t *testing.T) {
	t.Cleanup(func() { flags.StunServer = "" })
	require.NoError(t, rootCmd.PersistentFlags().Set("stun", "127.0.0.1:3478"))
	assert.Equal(t, "127.0.0.1:3478", flags.StunServer)
}
