package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/teemow/hostmcp/internal/tools"
)

// MaxSleep caps the sleep tool.
const MaxSleep = 5 * time.Minute

func (h *Host) registerTools() error {
	regs := []struct {
		desc tools.Descriptor
		fn   tools.TypedHandler
	}{
		{
			desc: tools.Descriptor{
				Name:        "echo",
				Description: "Return the given text unchanged.",
				Parameters: []tools.Parameter{
					{Name: "text", Type: tools.TypeString, Required: true, Description: "Text to echo"},
				},
			},
			fn: h.echo,
		},
		{
			desc: tools.Descriptor{
				Name:        "host_status",
				Description: "Report frame count, uptime and queue depth of the host's primary loop.",
			},
			fn: h.status,
		},
		{
			desc: tools.Descriptor{
				Name:        "sleep",
				Description: "Block the primary loop for a number of seconds. Useful for exercising call timeouts.",
				Parameters: []tools.Parameter{
					{Name: "seconds", Type: tools.TypeNumber, Required: true, Description: "Seconds to block, at most 300"},
				},
			},
			fn: h.sleep,
		},
		{
			desc: tools.Descriptor{
				Name:        "run_on_main",
				Description: "Read or write a host property. Properties live on the primary loop.",
				Parameters: []tools.Parameter{
					{Name: "key", Type: tools.TypeString, Required: true, Description: "Property name"},
					{Name: "value", Type: tools.TypeString, Description: "New value; omit to read"},
				},
			},
			fn: h.runOnMain,
		},
		{
			desc: tools.Descriptor{
				Name:        "debug_dump",
				Description: "Dump every host property.",
				Internal:    true,
			},
			fn: h.debugDump,
		},
	}

	for _, r := range regs {
		if err := h.registry.RegisterTyped(r.desc, r.fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", r.desc.Name, err)
		}
	}
	return nil
}

func failure(format string, args ...any) (tools.Result, error) {
	return tools.Result{Text: fmt.Sprintf(format, args...), IsError: true}, nil
}

func jsonResult(v any) (tools.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return tools.Result{}, fmt.Errorf("failed to encode result: %w", err)
	}
	return tools.Result{Text: string(data)}, nil
}

func (h *Host) echo(_ context.Context, args map[string]string) (tools.Result, error) {
	return tools.Result{Text: args["text"]}, nil
}

func (h *Host) status(ctx context.Context, _ map[string]string) (tools.Result, error) {
	return jsonResult(map[string]any{
		"success":        true,
		"frames":         h.frames.Load(),
		"uptime":         h.clock.Since(h.started).Truncate(time.Millisecond).String(),
		"pending_tasks":  h.loop.Pending(),
		"on_main_thread": h.loop.Owns(ctx),
		"session":        tools.SessionFromContext(ctx),
	})
}

func (h *Host) sleep(ctx context.Context, args map[string]string) (tools.Result, error) {
	if !h.loop.Owns(ctx) {
		return tools.Result{}, ErrOffLoop
	}

	seconds, err := strconv.ParseFloat(args["seconds"], 64)
	if err != nil || seconds < 0 {
		return failure("error: seconds must be a non-negative number, got %q", args["seconds"])
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > MaxSleep {
		return failure("error: seconds must be at most %d", int(MaxSleep.Seconds()))
	}

	h.clock.Sleep(d)
	return tools.Result{Text: fmt.Sprintf("slept %s", d)}, nil
}

func (h *Host) runOnMain(ctx context.Context, args map[string]string) (tools.Result, error) {
	if !h.loop.Owns(ctx) {
		return tools.Result{}, ErrOffLoop
	}

	key := args["key"]
	if key == "" {
		return failure("error: key is required")
	}

	previous, existed := h.props[key]
	value, write := args["value"]
	if write {
		h.props[key] = value
	}

	return jsonResult(map[string]any{
		"success":  true,
		"key":      key,
		"value":    h.props[key],
		"previous": previous,
		"existed":  existed,
		"written":  write,
	})
}

func (h *Host) debugDump(ctx context.Context, _ map[string]string) (tools.Result, error) {
	if !h.loop.Owns(ctx) {
		return tools.Result{}, ErrOffLoop
	}

	keys := make([]string, 0, len(h.props))
	for k := range h.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	props := make([][2]string, 0, len(keys))
	for _, k := range keys {
		props = append(props, [2]string{k, h.props[k]})
	}
	return jsonResult(map[string]any{"frames": h.frames.Load(), "props": props})
}
