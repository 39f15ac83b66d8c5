package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/config"
)

// PipeWireBackend records with pw-record and lists ports with pw-link.
type PipeWireBackend struct{}

func (p *PipeWireBackend) NewMicrophone(cfg *config.Config) Microphone {
	return &PipeWireMicrophone{Target: cfg.Audio.Input, Format: formatFromConfig(cfg)}
}

// ListSources returns PipeWire capture ports
func (p *PipeWireBackend) ListSources(ctx context.Context) ([]Device, error) {
	cmd := exec.CommandContext(ctx, "pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

// parsePortList turns pw-link output into devices, skipping section headers
// and repeated port names.
func parsePortList(output string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true

		node, port, _ := strings.Cut(line, ":")
		devices = append(devices, Device{
			ID:          line,
			Description: node,
			State:       port,
			Available:   true,
		})
	}
	return devices
}

// PipeWireMicrophone spawns pw-record writing PCM to stdout.
type PipeWireMicrophone struct {
	Target string
	Format Format
}

func (m *PipeWireMicrophone) Open(ctx context.Context) (Stream, error) {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return nil, unavailable(err)
	}

	args := []string{
		"--rate", strconv.Itoa(m.Format.SampleRate),
		"--channels", strconv.Itoa(m.Format.Channels),
		"--format", "s16",
	}
	if target := strings.TrimSpace(m.Target); target != "" && target != "default" {
		args = append(args, "--target", target)
	}
	args = append(args, "-")

	// The process must outlive the caller's ctx; Stop ends it.
	cmd := exec.Command("pw-record", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, unavailable(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Starting pw-record", "args", args)
	if err := cmd.Start(); err != nil {
		return nil, unavailable(fmt.Errorf("start pw-record: %w", err))
	}

	s := &pipeWireStream{
		cmd:    cmd,
		stderr: &stderr,
		format: m.Format,
		device: Device{ID: m.Target, Description: "pw-record", Available: true},
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop(stdout, m.Format.BytesPerSecond()*chunkDuration/1000)
	return s, nil
}

type pipeWireStream struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	format Format
	device Device

	chunks chan []byte
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *pipeWireStream) Chunks() <-chan []byte { return s.chunks }
func (s *pipeWireStream) Format() Format         { return s.format }
func (s *pipeWireStream) Device() Device         { return s.device }

func (s *pipeWireStream) readLoop(r io.Reader, chunkSize int) {
	defer close(s.done)
	defer close(s.chunks)

	headerChecked := false
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !headerChecked {
				headerChecked = true
				chunk = stripWAVHeader(chunk)
			}
			if len(chunk) > 0 {
				s.chunks <- chunk
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("pw-record read ended", "error", err)
			}
			return
		}
	}
}

// Stop interrupts pw-record, drains stdout and waits for exit.
func (s *pipeWireStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			slog.Debug("Sending SIGINT to pw-record")
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("Failed to interrupt pw-record, killing", "error", err)
				_ = s.cmd.Process.Kill()
			}
		}

		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			slog.Warn("pw-record did not exit within timeout, force killing")
			_ = s.cmd.Process.Kill()
			<-s.done
		}

		if err := s.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
				state := exitErr.ProcessState.String()
				if state == "signal: interrupt" || state == "signal: killed" || exitErr.ExitCode() == 0 {
					return
				}
			}
			slog.Debug("pw-record stderr", "output", s.stderr.String())
			s.stopErr = fmt.Errorf("pw-record failed: %w", err)
		}
	})
	return s.stopErr
}

// stripWAVHeader drops a RIFF header when pw-record wraps stdout in one.
func stripWAVHeader(b []byte) []byte {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return b
	}
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if id == "data" {
			return b[off:]
		}
		off += size + size%2
	}
	return nil
}
