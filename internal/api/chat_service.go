package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (c *Control) ListDialogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := c.svc.Dialogs()
	if boolField(req, "refresh") {
		loaded, err := c.svc.LoadDialogs(ctx)
		if err != nil {
			return nil, toStatus("load dialogs", err)
		}
		list = loaded
	}
	return reply(map[string]any{"dialogs": summariesFields(list)})
}

func (c *Control) GetUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := intField(req, "id")
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "invalid user id %d", id)
	}
	return reply(profileFields(c.svc.Profile(ctx, id)))
}
