package tools

import "context"

// Tool execution context keys. Per-turn values ride on the context instead of
// mutable fields on tool instances, keeping tools thread-safe when several
// conversations run concurrently. The orchestrator injects these before
// dispatch; tools read what they need during Execute().

type toolContextKey string

const (
	ctxConversationID toolContextKey = "tool_conversation_id"
	ctxOutputDir      toolContextKey = "tool_output_dir"
	ctxOutputDirName  toolContextKey = "tool_output_dir_name"
	ctxUsername       toolContextKey = "tool_username"
	ctxPendingImages  toolContextKey = "tool_pending_images"
)

func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxConversationID, id)
}

func ConversationIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxConversationID).(string)
	return v
}

func WithOutputDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ctxOutputDir, dir)
}

func OutputDirFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxOutputDir).(string)
	return v
}

func WithOutputDirName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxOutputDirName, name)
}

func OutputDirNameFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxOutputDirName).(string)
	return v
}

// WithPendingImages carries the paths currently queued for viewing, so
// manage_images_view can list and remove without store access.
func WithPendingImages(ctx context.Context, paths []string) context.Context {
	return context.WithValue(ctx, ctxPendingImages, paths)
}

func PendingImagesFromCtx(ctx context.Context) []string {
	v, _ := ctx.Value(ctxPendingImages).([]string)
	return v
}

func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxUsername, username)
}

func UsernameFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxUsername).(string)
	return v
}
