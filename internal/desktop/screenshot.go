package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg" // screenshot tools may emit JPEG

	"golang.org/x/image/draw"
)

// Screenshotter captures the display.
type Screenshotter interface {
	Capture(ctx context.Context) (image.Image, error)
}

// FilePlaceholder in a screenshot command is replaced with a temporary
// file path the command writes to. Without it the image is read from
// stdout.
const FilePlaceholder = "{file}"

// DefaultScreenshotCommand captures the X root window as PNG on stdout
// using ImageMagick.
var DefaultScreenshotCommand = []string{"import", "-silent", "-window", "root", "png:-"}

// CommandScreenshotter captures the screen with an external program.
type CommandScreenshotter struct {
	Command []string
	Runner  CommandRunner
}

func (s *CommandScreenshotter) Capture(ctx context.Context) (image.Image, error) {
	argv := s.Command
	if len(argv) == 0 {
		argv = DefaultScreenshotCommand
	}
	runner := s.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	var outPath string
	args := make([]string, 0, len(argv)-1)
	for _, arg := range argv[1:] {
		if strings.Contains(arg, FilePlaceholder) {
			if outPath == "" {
				dir, err := os.MkdirTemp("", "sol-screenshot-")
				if err != nil {
					return nil, fmt.Errorf("create screenshot dir: %w", err)
				}
				defer os.RemoveAll(dir)
				outPath = filepath.Join(dir, "screenshot.png")
			}
			arg = strings.ReplaceAll(arg, FilePlaceholder, outPath)
		}
		args = append(args, arg)
	}

	res, err := runner.Run(ctx, argv[0], args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with code %d: %s", argv[0], res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	data := res.Stdout
	if outPath != "" {
		data, err = os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("read screenshot: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, errors.New("screenshot command produced no image")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// EncodeScaledPNG resizes img to target (when it differs) and encodes it
// as PNG.
func EncodeScaledPNG(img image.Image, target Size) ([]byte, error) {
	bounds := img.Bounds()
	if target.Valid() && (bounds.Dx() != target.Width || bounds.Dy() != target.Height) {
		dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
