package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
)

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
