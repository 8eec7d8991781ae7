package desktop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/haasonsaas/speedoflight/internal/backoff"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ComputerToolName is the name of the parameterised input tool.
const ComputerToolName = "computer"

// maxWaitSeconds caps wait and hold_key durations.
const maxWaitSeconds = 100

// actionSpec lists the argument keys an action accepts besides "action".
type actionSpec struct {
	required []string
	optional []string
}

var (
	clickKeys = actionSpec{optional: []string{"coordinate", "text"}}

	actionSpecs = map[string]actionSpec{
		"key":             {required: []string{"text"}},
		"hold_key":        {required: []string{"text", "duration"}},
		"type":            {required: []string{"text"}},
		"cursor_position": {},
		"mouse_move":      {required: []string{"coordinate"}},
		"left_mouse_down": {},
		"left_mouse_up":   {},
		"left_click":      clickKeys,
		"left_click_drag": {required: []string{"coordinate"}, optional: []string{"start_coordinate"}},
		"right_click":     clickKeys,
		"middle_click":    clickKeys,
		"double_click":    clickKeys,
		"triple_click":    clickKeys,
		"scroll":          {required: []string{"scroll_direction", "scroll_amount"}, optional: []string{"coordinate", "text"}},
		"wait":            {required: []string{"duration"}},
		"screenshot":      {},
	}
)

// Actions returns the supported action names, sorted.
func Actions() []string {
	names := make([]string, 0, len(actionSpecs))
	for name := range actionSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// computerInput is the argument object of the computer tool.
type computerInput struct {
	Action          string  `json:"action" jsonschema_description:"The action to perform."`
	Coordinate      []int   `json:"coordinate,omitempty" jsonschema:"minItems=2,maxItems=2" jsonschema_description:"[x, y] position in screenshot pixels."`
	StartCoordinate []int   `json:"start_coordinate,omitempty" jsonschema:"minItems=2,maxItems=2" jsonschema_description:"[x, y] drag start for left_click_drag."`
	Text            string  `json:"text,omitempty" jsonschema_description:"Text to type, key combination such as ctrl+s, or modifier held during a click or scroll."`
	ScrollDirection string  `json:"scroll_direction,omitempty" jsonschema:"enum=up,enum=down,enum=left,enum=right"`
	ScrollAmount    int     `json:"scroll_amount,omitempty" jsonschema:"minimum=1"`
	Duration        float64 `json:"duration,omitempty" jsonschema:"minimum=0,maximum=100" jsonschema_description:"Seconds to wait or hold a key."`
}

// ComputerConfig configures the computer tool.
type ComputerConfig struct {
	// Display is the real display size. Required.
	Display Size

	// Target is the screenshot size offered to the model. Zero picks a
	// size that fits within 1280x800.
	Target Size

	Xdotool     Xdotool
	Runner      CommandRunner
	Screenshots Screenshotter
	Approver    Approver
	Approval    ApprovalPolicy
	Logger      *slog.Logger

	// ScreenshotDelay lets the display settle before each
	// screenshot.
	ScreenshotDelay time.Duration
}

// ComputerTool drives pointer, keyboard and screenshots through xdotool and
// a screenshot command.
type ComputerTool struct {
	scaler      Scaler
	xdotool     Xdotool
	runner      CommandRunner
	screenshots Screenshotter
	approver    Approver
	approval    ApprovalPolicy
	logger      *slog.Logger
	settle      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewComputerTool validates the display configuration.
func NewComputerTool(cfg ComputerConfig) (*ComputerTool, error) {
	scaler, err := NewScaler(cfg.Display, cfg.Target)
	if err != nil {
		return nil, err
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Screenshots == nil {
		cfg.Screenshots = &CommandScreenshotter{Runner: cfg.Runner}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Approval.Timeout <= 0 {
		cfg.Approval.Timeout = DefaultApprovalTimeout
	}
	return &ComputerTool{
		scaler:      scaler,
		xdotool:     cfg.Xdotool,
		runner:      cfg.Runner,
		screenshots: cfg.Screenshots,
		approver:    cfg.Approver,
		approval:    cfg.Approval,
		logger:      cfg.Logger.With("tool", ComputerToolName),
		settle:      cfg.ScreenshotDelay,
		sleep:       backoff.Sleep,
	}, nil
}

// TargetSize is the display size the model sees.
func (c *ComputerTool) TargetSize() Size {
	return c.scaler.Target
}

// Descriptor describes the tool to providers without a native computer tool.
func (c *ComputerTool) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name: ComputerToolName,
		Description: fmt.Sprintf("Control the mouse and keyboard and take screenshots of a %dx%d display. "+
			"Coordinates are pixels in the screenshot. Supported actions: %v.",
			c.scaler.Target.Width, c.scaler.Target.Height, Actions()),
		InputSchema: computerSchema(),
	}
}

// Call runs one action. Failures become is_error output.
func (c *ComputerTool) Call(ctx context.Context, req models.ToolInputRequest) models.ContentBlock {
	block, err := c.call(ctx, req)
	if err != nil {
		c.logger.Warn("computer action failed", "call_id", req.CallID, "error", err)
		return models.ToolTextOutput{
			CallID:   req.CallID,
			ToolName: req.ToolName,
			Text:     fmt.Sprintf("Error executing computer action: %v", err),
			IsError:  true,
		}
	}
	return block
}

func (c *ComputerTool) call(ctx context.Context, req models.ToolInputRequest) (models.ContentBlock, error) {
	args, err := req.ArgumentsMap()
	if err != nil {
		return nil, err
	}
	action, _ := args["action"].(string)
	if action == "" {
		return nil, errors.New(`missing required parameter "action"`)
	}
	if err := c.checkKeys(action, args); err != nil {
		return nil, err
	}

	var in computerInput
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", action, err)
		}
	}

	if err := requestApproval(ctx, c.approval, c.approver, ApprovalRequest{
		ToolName: ComputerToolName,
		Action:   action,
		Summary:  summarize(in),
	}); err != nil {
		return nil, err
	}

	c.logger.Info("computer action", "call_id", req.CallID, "action", action)

	switch action {
	case "screenshot":
		return c.screenshot(ctx, req)
	case "cursor_position":
		return c.cursorPosition(ctx, req)
	case "wait":
		if err := c.checkDuration(in.Duration); err != nil {
			return nil, err
		}
		if err := c.sleep(ctx, seconds(in.Duration)); err != nil {
			return nil, err
		}
		return c.text(req, fmt.Sprintf("Waited %s seconds.", formatSeconds(in.Duration)), false), nil
	}

	argv, err := c.commandFor(action, in)
	if err != nil {
		return nil, err
	}
	res, err := c.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return nil, err
	}
	text, isError := formatResult(argv, res)
	return c.text(req, text, isError), nil
}

// checkKeys rejects missing required keys and warns about unknown ones.
func (c *ComputerTool) checkKeys(action string, args map[string]any) error {
	spec, ok := actionSpecs[action]
	if !ok {
		return fmt.Errorf("unsupported action %q", action)
	}
	for _, key := range spec.required {
		if v, present := args[key]; !present || v == nil {
			return fmt.Errorf("missing required parameter %q for action %q", key, action)
		}
	}
	for key := range args {
		if key == "action" || slices.Contains(spec.required, key) || slices.Contains(spec.optional, key) {
			continue
		}
		c.logger.Warn("ignoring unexpected parameter", "action", action, "parameter", key)
	}
	return nil
}

func (c *ComputerTool) commandFor(action string, in computerInput) ([]string, error) {
	x := c.xdotool
	switch action {
	case "key":
		return x.Key(in.Text), nil
	case "type":
		return x.Type(in.Text), nil
	case "hold_key":
		if err := c.checkDuration(in.Duration); err != nil {
			return nil, err
		}
		return x.HoldKey(in.Text, in.Duration), nil
	case "mouse_move":
		p, err := c.devicePoint(in.Coordinate)
		if err != nil {
			return nil, err
		}
		return x.MouseMove(*p), nil
	case "left_mouse_down":
		return x.MouseDown(), nil
	case "left_mouse_up":
		return x.MouseUp(), nil
	case "left_click", "right_click", "middle_click", "double_click", "triple_click":
		p, err := c.optionalPoint(in.Coordinate)
		if err != nil {
			return nil, err
		}
		button, repeat := clickButton(action)
		return x.Click(button, repeat, p, in.Text), nil
	case "left_click_drag":
		to, err := c.devicePoint(in.Coordinate)
		if err != nil {
			return nil, err
		}
		from, err := c.optionalPoint(in.StartCoordinate)
		if err != nil {
			return nil, err
		}
		return x.Drag(from, *to), nil
	case "scroll":
		if in.ScrollAmount < 1 {
			return nil, fmt.Errorf("scroll_amount must be a positive integer, got %d", in.ScrollAmount)
		}
		p, err := c.optionalPoint(in.Coordinate)
		if err != nil {
			return nil, err
		}
		return x.Scroll(in.ScrollDirection, in.ScrollAmount, p, in.Text)
	}
	return nil, fmt.Errorf("unsupported action %q", action)
}

func clickButton(action string) (button, repeat int) {
	switch action {
	case "right_click":
		return 3, 1
	case "middle_click":
		return 2, 1
	case "double_click":
		return 1, 2
	case "triple_click":
		return 1, 3
	default:
		return 1, 1
	}
}

func (c *ComputerTool) devicePoint(coord []int) (*Point, error) {
	if len(coord) != 2 {
		return nil, fmt.Errorf("coordinate must be [x, y], got %v", coord)
	}
	p := Point{X: coord[0], Y: coord[1]}
	if !c.scaler.InBounds(p) {
		return nil, fmt.Errorf("coordinate %v is outside the %dx%d display", coord, c.scaler.Target.Width, c.scaler.Target.Height)
	}
	device := c.scaler.ToDevice(p)
	return &device, nil
}

func (c *ComputerTool) optionalPoint(coord []int) (*Point, error) {
	if coord == nil {
		return nil, nil
	}
	return c.devicePoint(coord)
}

func (c *ComputerTool) checkDuration(d float64) error {
	if d < 0 || d > maxWaitSeconds || math.IsNaN(d) {
		return fmt.Errorf("duration must be between 0 and %d seconds, got %v", maxWaitSeconds, d)
	}
	return nil
}

func (c *ComputerTool) cursorPosition(ctx context.Context, req models.ToolInputRequest) (models.ContentBlock, error) {
	argv := c.xdotool.CursorPosition()
	res, err := c.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		text, _ := formatResult(argv, res)
		return c.text(req, text, true), nil
	}
	device, err := ParseMouseLocation(res.Stdout)
	if err != nil {
		return nil, err
	}
	p := c.scaler.ToTool(device)
	return c.text(req, fmt.Sprintf("X=%d,Y=%d", p.X, p.Y), false), nil
}

func (c *ComputerTool) screenshot(ctx context.Context, req models.ToolInputRequest) (models.ContentBlock, error) {
	if err := c.sleep(ctx, c.settle); err != nil {
		return nil, err
	}
	img, err := c.screenshots.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("take screenshot: %w", err)
	}
	data, err := EncodeScaledPNG(img, c.scaler.Target)
	if err != nil {
		return nil, err
	}
	return models.ToolImageOutput{
		CallID:   req.CallID,
		ToolName: req.ToolName,
		Data:     data,
		MimeType: "image/png",
	}, nil
}

func (c *ComputerTool) text(req models.ToolInputRequest, text string, isError bool) models.ContentBlock {
	return models.ToolTextOutput{CallID: req.CallID, ToolName: req.ToolName, Text: text, IsError: isError}
}

func summarize(in computerInput) string {
	switch {
	case in.Text != "" && in.Coordinate != nil:
		return fmt.Sprintf("(%q at %v)", in.Text, in.Coordinate)
	case in.Text != "":
		return fmt.Sprintf("(%q)", in.Text)
	case in.Coordinate != nil:
		return fmt.Sprintf("(at %v)", in.Coordinate)
	default:
		return ""
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
