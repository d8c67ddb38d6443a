package agent

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/reagentd/reagent/internal/providers"
	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/internal/tools"
	"github.com/reagentd/reagent/internal/workspace"
)

// mergeQueuedImages folds images a tool just queued into the conversation's
// pending set. The queue is deduplicated by path: re-queuing an already
// pending image is a no-op.
func mergeQueuedImages(pending []store.PendingImage, queued []tools.QueuedImage, dir string) []store.PendingImage {
	for _, q := range queued {
		path := absImagePath(q.Path, dir)
		views := q.RemainingViews
		if views <= 0 {
			views = 1
		}
		detail := q.Detail
		if detail == "" {
			detail = "auto"
		}

		found := false
		for i := range pending {
			if pending[i].Path == path {
				found = true
				break
			}
		}
		if !found {
			pending = append(pending, store.PendingImage{
				Path: path, Detail: detail, RemainingViews: views,
			})
		}
	}
	return pending
}

// removeQueuedImages drops the named paths from the pending set.
func removeQueuedImages(pending []store.PendingImage, queued []tools.QueuedImage, dir string) []store.PendingImage {
	drop := make(map[string]bool, len(queued))
	for _, q := range queued {
		drop[absImagePath(q.Path, dir)] = true
	}
	var out []store.PendingImage
	for _, img := range pending {
		if !drop[img.Path] {
			out = append(out, img)
		}
	}
	return out
}

func absImagePath(path, dir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func pendingPaths(pending []store.PendingImage) []string {
	out := make([]string, len(pending))
	for i, img := range pending {
		out[i] = img.Path
	}
	return out
}

func imageNames(queued []tools.QueuedImage) []string {
	out := make([]string, len(queued))
	for i, q := range queued {
		out[i] = filepath.Base(q.Path)
	}
	return out
}

// materializePendingImages builds the multimodal user message carrying the
// pending images and returns it with the decremented queue. Images whose
// remaining views hit zero are evicted; unreadable images are evicted with a
// warning. Returns a nil message when nothing is visible.
func materializePendingImages(pending []store.PendingImage) (*providers.Message, []store.PendingImage) {
	if len(pending) == 0 {
		return nil, pending
	}

	var parts []providers.ContentPart
	var survivors []store.PendingImage

	for _, img := range pending {
		dataURL, err := workspace.EncodeImageDataURL(img.Path, img.Detail)
		if err != nil {
			slog.Warn("dropping unreadable pending image", "path", img.Path, "error", err)
			continue
		}
		parts = append(parts, providers.ContentPart{
			Type:     "image_url",
			ImageURL: &providers.ImageURL{URL: dataURL, Detail: img.Detail},
		})
		img.RemainingViews--
		if img.RemainingViews > 0 {
			survivors = append(survivors, img)
		}
	}

	if len(parts) == 0 {
		return nil, survivors
	}

	msg := &providers.Message{
		Role: "user",
		Parts: append([]providers.ContentPart{{
			Type: "text",
			Text: fmt.Sprintf("以下是待查看的%d张图片，请结合图片内容继续当前任务。", len(parts)),
		}}, parts...),
	}
	return msg, survivors
}
