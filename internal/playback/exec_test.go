package playback

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAudioPlayer(t *testing.T) {
	installed := func(names ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, n := range names {
				if n == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", exec.ErrNotFound
		}
	}

	got, err := findAudioPlayer(installed("aplay", "mpv"))
	require.NoError(t, err)
	assert.Equal(t, "mpv", got)

	got, err = findAudioPlayer(installed("aplay"))
	require.NoError(t, err)
	assert.Equal(t, "aplay", got)

	_, err = findAudioPlayer(installed())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vlc, mpv, ffplay, aplay")
}

func TestPlayerArgs(t *testing.T) {
	assert.Equal(t, []string{"--intf", "dummy", "--play-and-exit", "f.wav"}, playerArgs("vlc", "f.wav"))
	assert.Equal(t, []string{"--no-video", "--really-quiet", "f.wav"}, playerArgs("mpv", "f.wav"))
	assert.Equal(t, []string{"-nodisp", "-autoexit", "-loglevel", "error", "f.wav"}, playerArgs("ffplay", "f.wav"))
	assert.Equal(t, []string{"f.wav"}, playerArgs("aplay", "f.wav"))
}

type bytesDownloader struct {
	data []byte
	err  error
	urls []string
}

func (d *bytesDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	d.urls = append(d.urls, url)
	return d.data, d.err
}

func TestExecPlayer_OpenWritesTempFile(t *testing.T) {
	d := &bytesDownloader{data: []byte("RIFF")}
	p := &ExecPlayer{downloader: d, command: "aplay"}

	h, err := p.Open(context.Background(), "http://localhost:5000/api/recordings/a.wav")
	require.NoError(t, err)

	eh := h.(*execHandle)
	data, err := os.ReadFile(eh.file)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)
	assert.Equal(t, ".wav", filepath.Ext(eh.file))

	require.NoError(t, h.Close())
	_, err = os.Stat(eh.file)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExecPlayer_AplayRejectsNonWAV(t *testing.T) {
	p := &ExecPlayer{downloader: &bytesDownloader{data: []byte("ID3")}, command: "aplay"}
	_, err := p.Open(context.Background(), "http://localhost:5000/src/1.mp3")
	assert.Error(t, err)
}

func TestExecPlayer_DownloadFailure(t *testing.T) {
	p := &ExecPlayer{downloader: &bytesDownloader{err: errors.New("404")}, command: "mpv"}
	_, err := p.Open(context.Background(), "http://localhost:5000/api/recordings/a.wav")
	assert.Error(t, err)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "player.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExecHandle_NaturalEnd(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	h := &execHandle{command: "sh", file: writeScript(t, "exit 0\n"), done: make(chan struct{})}

	require.NoError(t, h.Play())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("natural end not reported")
	}
	require.NoError(t, h.Close())
}

func TestExecHandle_PauseIsNotNaturalEnd(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	h := &execHandle{command: "sh", file: writeScript(t, "exec sleep 30\n"), done: make(chan struct{})}

	require.NoError(t, h.Play())
	require.NoError(t, h.Pause())
	require.NoError(t, h.Rewind())

	select {
	case <-h.Done():
		t.Fatal("pause must not report completion")
	case <-time.After(50 * time.Millisecond):
	}

	// Play after a pause starts over with a fresh process.
	require.NoError(t, h.Play())
	h.mu.Lock()
	running := h.cmd != nil
	h.mu.Unlock()
	assert.True(t, running)

	require.NoError(t, h.Close())
	assert.Error(t, h.Play())
}
