package bashsession

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	s := New(t.TempDir())
	defer s.Close()

	res, err := s.Run(context.Background(), "echo hi", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, 0, res.ExitCode)
	require.True(t, strings.Contains(res.Output, "hi"))
}

func TestWorkingDirectoryPersistsAcrossCommands(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	defer s.Close()

	_, err := s.Run(context.Background(), "mkdir sub && cd sub", 5*time.Second)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), "pwd", 5*time.Second)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(strings.TrimSpace(res.Output), "/sub"))
}

func TestNonZeroExitCodeIsCaptured(t *testing.T) {
	s := New(t.TempDir())
	defer s.Close()

	res, err := s.Run(context.Background(), "(exit 7)", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestCloseTerminatesProcess(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Run(context.Background(), "echo start", 5*time.Second)
	require.NoError(t, err)
	require.True(t, s.Alive())

	require.NoError(t, s.Close())
	require.False(t, s.Alive())
}
