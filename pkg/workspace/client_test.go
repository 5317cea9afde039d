package workspace

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/kbagent/internal/testutil/kbasefake"
	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

func newFakeClient(t *testing.T) (*Client, *kbasefake.Server) {
	t.Helper()
	fake := kbasefake.New(t)
	c, err := New(fake.Settings(), platform.ClientOptions{Token: "tok"})
	require.NoError(t, err)
	return c, fake
}

func TestGetWorkspaceInfo(t *testing.T) {
	c, fake := newFakeClient(t)
	fake.Handle("Workspace.get_workspace_info", func(params []json.RawMessage) (any, error) {
		return []any{1001, "someuser:narrative_1", "someuser", "2025-01-02T03:04:05+0000", 12, "a", "n", "unlocked",
			map[string]string{"narrative_nice_name": "My Narrative"}}, nil
	})

	info, err := c.GetWorkspaceInfo(context.Background(), WorkspaceIdentity{ID: 1001})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), info.ID)
	assert.Equal(t, "someuser", info.Owner)
	assert.Equal(t, int64(12), info.MaxObjID)
	assert.Equal(t, "unlocked", info.LockStatus)
	assert.Equal(t, "My Narrative", info.Metadata["narrative_nice_name"])

	calls := fake.Calls("Workspace.get_workspace_info")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"id":1001}`, string(calls[0].Params[0]))
}

func TestGetWorkspaceInfo_Identity(t *testing.T) {
	c, fake := newFakeClient(t)

	_, err := c.GetWorkspaceInfo(context.Background(), WorkspaceIdentity{})
	require.Error(t, err)
	_, err = c.GetWorkspaceInfo(context.Background(), WorkspaceIdentity{ID: 1, Name: "x"})
	require.Error(t, err)
	assert.Empty(t, fake.Calls("Workspace.get_workspace_info"))
}

func TestGetWorkspaceInfo_BadTuple(t *testing.T) {
	c, fake := newFakeClient(t)
	fake.Handle("Workspace.get_workspace_info", func(params []json.RawMessage) (any, error) {
		return []any{1, "short"}, nil
	})

	_, err := c.GetWorkspaceInfo(context.Background(), WorkspaceIdentity{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 9 elements")
}

func TestGetWorkspaceInfo_ServerError(t *testing.T) {
	c, fake := newFakeClient(t)
	fake.Handle("Workspace.get_workspace_info", func(params []json.RawMessage) (any, error) {
		return nil, &service.ServerError{Name: "JSONRPCError", Code: -32500, Message: "No workspace with id 5 exists"}
	})

	_, err := c.GetWorkspaceInfo(context.Background(), WorkspaceIdentity{ID: 5})
	var se *service.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, -32500, se.Code)
}

func TestGetObjectInfo(t *testing.T) {
	c, fake := newFakeClient(t)
	fake.Handle("Workspace.get_object_info3", func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"infos": []any{
				[]any{3, "my_genome", "KBaseGenomes.Genome-17.0", "2025-01-02T03:04:05+0000", 2, "someuser", 1001, "ws_name", "abc123", 4096, nil},
				nil,
			},
			"paths": []any{[]any{"1001/3/2"}, nil},
		}, nil
	})

	infos, err := c.GetObjectInfo(context.Background(), []string{"1001/3", "1001/99"}, true)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.NotNil(t, infos[0])
	assert.Nil(t, infos[1])
	assert.Equal(t, "KBaseGenomes.Genome-17.0", infos[0].Type)
	assert.Equal(t, "1001/3/2", infos[0].Ref())
	assert.Equal(t, int64(4096), infos[0].Size)
	assert.Nil(t, infos[0].Metadata)

	calls := fake.Calls("Workspace.get_object_info3")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"objects":[{"ref":"1001/3"},{"ref":"1001/99"}],"includeMetadata":1,"ignoreErrors":1}`, string(calls[0].Params[0]))
}

func TestVer(t *testing.T) {
	c, fake := newFakeClient(t)
	fake.Handle("Workspace.ver", func(params []json.RawMessage) (any, error) {
		return "0.14.2", nil
	})

	v, err := c.Ver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.14.2", v)
}
