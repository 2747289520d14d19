package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/syncmgr"
)

func TestRemoteLifecycle(t *testing.T) {
	useTempStore(t)

	out, err := execute(t, "remote", "list")
	require.NoError(t, err)
	assert.Equal(t, "No remotes.\n", out)

	out, err = execute(t, "remote", "add", "hub",
		"--url", "http://hub.example.com/graphql",
		"--collection", "drive-1",
		"--document-id", "doc-1,doc-2",
		"--scope", "global",
		"--token", "secret",
		"--format", "json")
	require.NoError(t, err)
	var added ir.RemoteRecord
	decodeData(t, out, &added)
	assert.NotEmpty(t, added.ID)

	_, err = execute(t, "remote", "add", "peer", "--type", "internal", "--peer", "replica-b")
	require.NoError(t, err)

	out, err = execute(t, "remote", "list", "--format", "json")
	require.NoError(t, err)
	var remotes []ir.RemoteRecord
	decodeData(t, out, &remotes)
	require.Len(t, remotes, 2)

	hub := remotes[0]
	assert.Equal(t, "hub", hub.Name)
	assert.Equal(t, added.ID, hub.ID)
	assert.Equal(t, "drive-1", hub.CollectionID)
	assert.Equal(t, syncmgr.ChannelTypeRequest, hub.Channel.Type)
	assert.Equal(t, "http://hub.example.com/graphql", hub.Channel.Parameters[syncmgr.ParamURL])
	assert.Equal(t, []string{"doc-1", "doc-2"}, hub.Filter.DocumentID)
	assert.Equal(t, []string{"global"}, hub.Filter.Scope)
	assert.Equal(t, "peer", remotes[1].Name)
	assert.Equal(t, "replica-b", remotes[1].Channel.Parameters[syncmgr.ParamPeer])

	out, err = execute(t, "remote", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "hub\trequest\turl=http://hub.example.com/graphql\n")
	assert.NotContains(t, out, "secret")

	out, err = execute(t, "remote", "remove", "hub")
	require.NoError(t, err)
	assert.Equal(t, "Removed remote hub\n", out)

	out, err = execute(t, "remote", "list", "--format", "json")
	require.NoError(t, err)
	decodeData(t, out, &remotes)
	require.Len(t, remotes, 1)
	assert.Equal(t, "peer", remotes[0].Name)
}

func TestRemoteAdd_Errors(t *testing.T) {
	useTempStore(t)
	_, err := execute(t, "remote", "add", "hub", "--url", "http://hub/graphql")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"duplicate", []string{"remote", "add", "hub", "--url", "http://other/graphql"}, "already exists"},
		{"request without url", []string{"remote", "add", "x"}, "--url is required"},
		{"internal without peer", []string{"remote", "add", "x", "--type", "internal"}, "--peer is required"},
		{"unknown type", []string{"remote", "add", "x", "--type", "carrier-pigeon"}, "unknown channel type"},
		{"unknown reshuffle", []string{"remote", "add", "x", "--url", "http://x", "--reshuffle", "random"}, "unknown reshuffle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRemoteRemove_Unknown(t *testing.T) {
	useTempStore(t)
	_, err := execute(t, "remote", "remove", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown remote "ghost"`)
}

func TestRemoteAdd_ResponseChannel(t *testing.T) {
	useTempStore(t)
	out, err := execute(t, "remote", "add", "client", "--type", "response", "--format", "json")
	require.NoError(t, err)
	var rec ir.RemoteRecord
	decodeData(t, out, &rec)
	assert.Equal(t, syncmgr.ChannelTypeResponse, rec.Channel.Type)
	assert.Empty(t, rec.Channel.Parameters)
}
