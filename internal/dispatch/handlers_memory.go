package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

type memoryStoreArgs struct {
	ProjectID  string   `json:"project_id"`
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
}

func handleMemoryStore(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a memoryStoreArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Memory.Store(ctx, memory.StoreInput{
		ProjectID:  a.ProjectID,
		Content:    a.Content,
		Type:       types.MemoryType(a.Type),
		Tags:       a.Tags,
		Importance: a.Importance,
		Confidence: a.Confidence,
	})
}

type memoryRecallArgs struct {
	ID string `json:"id"`
}

func handleMemoryRecall(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a memoryRecallArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Memory.Recall(ctx, a.ID)
}

type memoryUpdateArgs struct {
	ID         string   `json:"id"`
	Content    *string  `json:"content,omitempty"`
	Type       *string  `json:"type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
}

func handleMemoryUpdate(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a memoryUpdateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	in := memory.UpdateInput{Content: a.Content, Tags: a.Tags, Importance: a.Importance}
	if a.Type != nil {
		t := types.MemoryType(*a.Type)
		in.Type = &t
	}
	return impl.Memory.Update(ctx, a.ID, in)
}

type memoryDeleteArgs struct {
	ID        string `json:"id"`
	Permanent bool   `json:"permanent"`
}

func handleMemoryDelete(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a memoryDeleteArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := impl.Memory.Delete(ctx, a.ID, a.Permanent); err != nil {
		return nil, err
	}
	return map[string]any{"id": a.ID, "deleted": true, "permanent": a.Permanent}, nil
}

type memoryListArgs struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Tag       string `json:"tag"`
	Limit     int    `json:"limit"`
}

func handleMemoryList(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a memoryListArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Store.ListMemories(ctx, storage.ListMemoriesOpts{
		ProjectID: a.ProjectID,
		Type:      types.MemoryType(a.Type),
		Tag:       a.Tag,
		Limit:     a.Limit,
	})
}
