package permission_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/permission"
)

func TestCheckFilesystemOperationDeniesPathWhenNoAllowListConfigured(t *testing.T) {
	t.Parallel()

	perm := &permission.FileSystemPermissions{Read: true}
	err := permission.CheckFilesystemOperation(perm, "read", "/data/secret", "")
	require.Error(t, err)
}

func TestCheckFilesystemOperationMatchesAllowedPathsByPrefix(t *testing.T) {
	t.Parallel()

	perm := &permission.FileSystemPermissions{Read: true, AllowedPaths: []string{"/data"}}

	require.NoError(t, permission.CheckFilesystemOperation(perm, "read", "/data", ""))
	require.NoError(t, permission.CheckFilesystemOperation(perm, "read", "/data/x", ""))

	err := permission.CheckFilesystemOperation(perm, "read", "/other", "")
	require.Error(t, err)
}
