//go:build conntest

package conntest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/internal/testinfra"
)

var (
	sftpContainer *testinfra.SFTPContainer
	keyPath       string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	key, err := testinfra.GenerateKeyPair("atomdeploy-conntest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "atomdeploy-conntest-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create temp dir: %v\n", err)
		os.Exit(1)
	}

	keyPath, err = key.WriteToDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write key: %v\n", err)
		os.Exit(1)
	}

	sftpContainer, err = testinfra.StartSFTP(ctx, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start sftp: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	sftpContainer.Terminate(ctx) //nolint:errcheck
	os.RemoveAll(dir)
	os.Exit(code)
}

func passwordTarget(path string) config.Target {
	return config.Target{
		Type:     config.TargetSFTP,
		Host:     sftpContainer.Host,
		Port:     sftpContainer.Port,
		Username: testinfra.SFTPUser,
		Password: testinfra.SFTPPassword,
		Path:     path,
	}
}

func openRemote(t *testing.T, target config.Target) *backend.Handle {
	t.Helper()
	h, err := backend.Open("remote", target, logging.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// freshRoot returns an empty directory under the container root for one test.
func freshRoot(t *testing.T) string {
	t.Helper()
	root := testinfra.SFTPRoot + "/" + t.Name()
	h := openRemote(t, passwordTarget(testinfra.SFTPRoot))
	require.NoError(t, h.CreateDir(context.Background(), t.Name()))
	return root
}
