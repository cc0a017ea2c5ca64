package asynclog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRotationByLineCount: with MaxLines overridden to 3, four INFO
// writes must produce two files, the second starting at line 1.
func TestRotationByLineCount(t *testing.T) {
	dir := t.TempDir()
	l, err := Init(Info, dir, ".log", 0)
	require.NoError(t, err)
	l.SetMaxLines(3)
	defer l.Close()

	for i := 0; i < 4; i++ {
		l.Infof("line %d", i)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	l, err := Init(Warn, dir, ".log", 0)
	require.NoError(t, err)
	defer l.Close()

	l.Debugf("should be elided")
	l.Infof("should also be elided")
	l.Warnf("kept")

	name := time.Now().Format("2006_01_02") + ".log"
	data, err := os.ReadFile(dir + "/" + name)
	require.NoError(t, err)
	require.Contains(t, string(data), "kept")
	require.NotContains(t, string(data), "elided")
}

func TestAsyncQueueDrains(t *testing.T) {
	dir := t.TempDir()
	l, err := Init(Info, dir, ".log", 16)
	require.NoError(t, err)

	l.Infof("hello async")
	l.Close()

	name := time.Now().Format("2006_01_02") + ".log"
	data, err := os.ReadFile(dir + "/" + name)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello async")
}
