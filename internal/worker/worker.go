package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

// maxResponse guards against a corrupt length header allocating gigabytes.
const maxResponse = 64 * 1024 * 1024

// Config describes how to launch the detection worker.
type Config struct {
	Python      string
	Script      string
	ReadTimeout time.Duration
}

// PythonWorker talks to the face detection/encoding process. Frames go in on stdin and
// results come back on a dedicated pipe (FD 3), both framed by a big-endian uint32 length.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}
	py := utils.NewSafeCommand(cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one request and waits for the matching response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("worker %d timed out after %s: %w", w.ID, w.ReadTimeout, err)
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("worker %d sent an oversized response (%d bytes)", w.ID, respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect returns every face found in a JPEG frame. A face the worker could not encode
// comes back with an empty Vec.
func (w *PythonWorker) Detect(frame []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(resp)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var e types.ErrorResult
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, fmt.Errorf("failed to decode worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", e.Error)
	}

	var faces []types.FaceResult
	if err := json.Unmarshal(trimmed, &faces); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	return faces, nil
}

// Largest picks the face with the biggest box, or false when there are none.
func Largest(faces []types.FaceResult) (types.FaceResult, bool) {
	if len(faces) == 0 {
		return types.FaceResult{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Rect().Area() > best.Rect().Area() {
			best = f
		}
	}
	return best, true
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
