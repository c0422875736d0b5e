package api

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Watch streams bus events whose kind starts with the requested namespace
// until the client goes away. Events are dropped if the client falls behind.
func (c *Control) Watch(req *structpb.Struct, stream WatchServer) error {
	ch, unsub := c.svc.Bus().Subscribe(stringField(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := payloadFields(evt.Payload)
			if err != nil {
				c.logger.Debug("skipping event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			envelope, err := structpb.NewStruct(map[string]any{
				"event_id":            uuid.New().String(),
				"session":             c.sessionName,
				"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
				"kind":                evt.Kind,
				"conversation_id":     evt.Conversation,
				"payload_version":     1,
				"payload":             payload,
			})
			if err != nil {
				c.logger.Debug("skipping event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(envelope); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
