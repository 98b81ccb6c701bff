// Package chat posts chat_notification actions to an incoming chat webhook.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/httpcall"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
)

// mentionReplacer neutralises broadcast and user mentions in incoming-webhook markup.
var mentionReplacer = strings.NewReplacer("<!", "&lt;!", "<@", "&lt;@")

type Adapter struct {
	http *httpcall.Adapter
}

func NewAdapter(http *httpcall.Adapter) *Adapter {
	return &Adapter{http: http}
}

func (a *Adapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	config, ok := request.Config.(*models.ChatConfig)
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", httpcall.ErrUnexpectedConfig, request.Config))
	}

	out, err := a.http.Do(ctx, httpcall.Call{
		Method:         "POST",
		URL:            config.WebhookURL,
		Body:           Message(config),
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"channel":    config.Channel,
		"statusCode": out["statusCode"],
		"delivered":  true,
	}, nil
}

// Message builds the incoming-webhook payload for config.
func Message(config *models.ChatConfig) map[string]any {
	text := config.Message
	if !config.AllowMentions {
		text = mentionReplacer.Replace(text)
	}

	payload := map[string]any{
		"text":       text,
		"link_names": config.AllowMentions,
	}

	if config.Channel != "" {
		payload["channel"] = config.Channel
	}

	return payload
}
