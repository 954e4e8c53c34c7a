package testinfra

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	SFTPImage    = "lscr.io/linuxserver/openssh-server:latest"
	SFTPUser     = "deploy"
	SFTPPassword = "deploy"

	// SFTPRoot is an absolute directory owned by SFTPUser.
	SFTPRoot = "/config/site"

	sftpPort = "2222/tcp"
	sftpUID  = "1000"
)

// SFTPContainer is an OpenSSH server with shell and SFTP access for SFTPUser.
type SFTPContainer struct {
	testcontainers.Container
	Host string
	Port int
}

// StartSFTP starts the server. When key is set its public half is
// authorized for SFTPUser next to password login.
func StartSFTP(ctx context.Context, key *KeyPair) (*SFTPContainer, error) {
	env := map[string]string{
		"PUID":            sftpUID,
		"PGID":            sftpUID,
		"USER_NAME":       SFTPUser,
		"USER_PASSWORD":   SFTPPassword,
		"PASSWORD_ACCESS": "true",
	}
	if key != nil {
		env["PUBLIC_KEY"] = strings.TrimSpace(string(key.AuthorizedKey))
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        SFTPImage,
			Env:          env,
			ExposedPorts: []string{sftpPort},
			WaitingFor:   wait.ForListeningPort(sftpPort).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}

	if err := execIn(ctx, ctr, "mkdir", "-p", SFTPRoot); err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	if err := execIn(ctx, ctr, "chown", sftpUID+":"+sftpUID, SFTPRoot); err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, err
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, sftpPort)
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &SFTPContainer{Container: ctr, Host: host, Port: port.Int()}, nil
}

func execIn(ctx context.Context, ctr testcontainers.Container, cmd ...string) error {
	code, out, err := ctr.Exec(ctx, cmd)
	if err != nil {
		return fmt.Errorf("exec %v: %w", cmd, err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(out)
		return fmt.Errorf("exec %v: exit %d: %s", cmd, code, msg)
	}
	return nil
}
