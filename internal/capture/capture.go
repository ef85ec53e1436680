// ABOUTME: Screen grab capability behind the Grabber interface
// ABOUTME: Local mode shells out to a screenshot tool; remote mode proxies a capture backend
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/harper/recall/internal/models"
)

// Grabber yields a raw screen bitmap on demand. Implementations must honor
// ctx cancellation; a grab error is transient and retried by the controller.
type Grabber interface {
	Grab(ctx context.Context) (*models.RawFrame, error)
}

// CommandGrabber captures by running an external screenshot command that
// writes an encoded image to stdout.
type CommandGrabber struct {
	name string
	args []string
}

// defaultCaptureCommand picks a platform screenshot tool that can write to stdout.
func defaultCaptureCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "screencapture -x -t png /dev/stdout"
	default:
		return "grim -"
	}
}

// NewCommandGrabber builds a local grabber. An empty command selects the
// platform default.
func NewCommandGrabber(command string) (*CommandGrabber, error) {
	if command == "" {
		command = defaultCaptureCommand()
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty capture command")
	}
	return &CommandGrabber{name: fields[0], args: fields[1:]}, nil
}

// Grab runs the capture command and decodes its output.
func (g *CommandGrabber) Grab(ctx context.Context) (*models.RawFrame, error) {
	out, err := exec.CommandContext(ctx, g.name, g.args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCaptureFailed, g.name, err)
	}
	return decodeFrame(out)
}

// RemoteGrabber proxies grabs to a remote capture backend over HTTP.
type RemoteGrabber struct {
	baseURL string
	client  *http.Client
}

// NewRemoteGrabber builds a grabber for a remote backend exposing
// GET <base>/api/capture returning encoded image bytes.
func NewRemoteGrabber(baseURL string, timeout time.Duration) *RemoteGrabber {
	return &RemoteGrabber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Grab fetches one frame from the remote backend.
func (g *RemoteGrabber) Grab(ctx context.Context) (*models.RawFrame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/capture", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureFailed, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned %s", models.ErrCaptureFailed, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureFailed, err)
	}
	return decodeFrame(data)
}

// StaticGrabber returns a fixed image on every grab (for tests).
type StaticGrabber struct {
	Image image.Image
	Err   error
}

func (g *StaticGrabber) Grab(ctx context.Context) (*models.RawFrame, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	return &models.RawFrame{Image: g.Image, Timestamp: time.Now().UTC()}, nil
}

func decodeFrame(data []byte) (*models.RawFrame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable capture output: %v", models.ErrCaptureFailed, err)
	}
	return &models.RawFrame{Image: img, Timestamp: time.Now().UTC()}, nil
}
