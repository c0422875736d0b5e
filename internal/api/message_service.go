package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (c *Control) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	if boolField(req, "load_older") {
		if _, err := c.svc.LoadOlder(ctx, convID); err != nil {
			return nil, toStatus("load older", err)
		}
	}
	page := c.svc.Page(convID, optInt(req, "before"), int(optInt(req, "limit")))
	return reply(map[string]any{
		"messages": messagesFields(page.Messages),
		"has_more": page.HasMore,
		"cursor":   page.Cursor,
	})
}

func (c *Control) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.SendText(ctx, convID, stringField(req, "text")); err != nil {
		return nil, toStatus("send text", err)
	}
	return reply(map[string]any{"success": true})
}

func (c *Control) SendTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.SendTyping(ctx, convID, boolField(req, "typing")); err != nil {
		return nil, toStatus("send typing", err)
	}
	return reply(map[string]any{"success": true})
}

func (c *Control) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	msgID, err := intField(req, "message_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.MarkRead(ctx, convID, msgID); err != nil {
		return nil, toStatus("mark read", err)
	}
	return reply(map[string]any{"success": true})
}

func (c *Control) EditMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	msgID, err := intField(req, "message_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.EditMessage(ctx, convID, msgID, stringField(req, "text")); err != nil {
		return nil, toStatus("edit message", err)
	}
	return reply(map[string]any{"success": true})
}

func (c *Control) DeleteMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	msgID, err := intField(req, "message_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.DeleteMessage(ctx, convID, msgID); err != nil {
		return nil, toStatus("delete message", err)
	}
	return reply(map[string]any{"success": true})
}

func (c *Control) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if c.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "message mirror not configured")
	}
	query := stringField(req, "query")
	if query == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "empty query")
	}
	limit := int(optInt(req, "limit"))
	if limit <= 0 {
		limit = 50
	}
	results, err := c.db.SearchMessages(query, optInt(req, "conversation_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return reply(map[string]any{
		"results":  searchFields(results),
		"has_more": len(results) == limit,
	})
}
