package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/reagentd/reagent/internal/workspace"
)

// ManageImagesView manages the per-conversation queue of workspace images
// shown to the model. The orchestrator owns the queue itself; the tool
// reports the requested operation through the result and the orchestrator
// applies it before the next model call.
type ManageImagesView struct{}

func (t *ManageImagesView) Name() string { return "manage_images_view" }
func (t *ManageImagesView) Description() string {
	return "Manage the queue of workspace images shown to you. action=add queues images for the next reasoning step, remove drops them, list shows the queue, clear empties it."
}
func (t *ManageImagesView) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "remove", "list", "clear"},
				"description": "Queue operation, default add",
			},
			"filenames": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Image filenames in the workspace (add and remove)",
			},
			"detail": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"low", "auto", "high"},
				"description": "Resolution hint for add, default auto",
			},
			"views": map[string]interface{}{
				"type":        "integer",
				"description": "How many model turns each added image stays visible, default 1",
			},
		},
	}
}

func (t *ManageImagesView) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	if action == "" {
		action = ImagesOpAdd
	}

	switch action {
	case "list":
		paths := PendingImagesFromCtx(ctx)
		if len(paths) == 0 {
			return NewResult("no images queued for viewing")
		}
		names := make([]string, len(paths))
		for i, p := range paths {
			names[i] = filepath.Base(p)
		}
		return NewResult(fmt.Sprintf("%d image(s) queued: %s", len(names), strings.Join(names, ", ")))

	case "clear":
		n := len(PendingImagesFromCtx(ctx))
		res := NewResult(fmt.Sprintf("cleared %d queued image(s)", n))
		res.ImagesOp = ImagesOpClear
		return res

	case ImagesOpAdd, ImagesOpRemove:
		return t.addOrRemove(ctx, action, args)

	default:
		return ErrorResult(KindParameterValidation,
			fmt.Sprintf("unknown action %q: use add, remove, list or clear", action))
	}
}

func (t *ManageImagesView) addOrRemove(ctx context.Context, action string, args map[string]interface{}) *Result {
	rawNames, ok := args["filenames"].([]interface{})
	if !ok || len(rawNames) == 0 {
		return ErrorResult(KindParameterValidation,
			fmt.Sprintf("filenames must be a non-empty array for action=%s", action))
	}

	detail, _ := args["detail"].(string)
	if detail == "" {
		detail = "auto"
	}
	views := 1
	if v, ok := args["views"].(float64); ok && v > 0 {
		views = int(v)
	}

	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return ErrorResult(KindToolExecution, "no output directory for this conversation")
	}

	var selected []QueuedImage
	var missing []string
	for _, raw := range rawNames {
		name, _ := raw.(string)
		if name == "" {
			continue
		}
		if !workspace.IsImageFile(name) {
			missing = append(missing, name+" (not an image)")
			continue
		}
		path, err := workspace.ResolveImagePath(dir, name)
		if err != nil {
			if action == ImagesOpRemove {
				// Removal only needs the path, present or not.
				path = filepath.Join(dir, filepath.Base(name))
			} else {
				missing = append(missing, name)
				continue
			}
		}
		selected = append(selected, QueuedImage{Path: path, Detail: detail, RemainingViews: views})
	}

	if len(selected) == 0 {
		return ErrorResult(KindDataNotFound,
			fmt.Sprintf("no viewable images found: %s", strings.Join(missing, ", ")))
	}

	verb := "queued for viewing"
	if action == ImagesOpRemove {
		verb = "removed from the view queue"
	}
	msg := fmt.Sprintf("%d image(s) %s", len(selected), verb)
	if len(missing) > 0 {
		msg += fmt.Sprintf("; skipped: %s", strings.Join(missing, ", "))
	}
	res := NewResult(msg)
	res.Images = selected
	res.ImagesOp = action
	return res
}
