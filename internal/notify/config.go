package notify

import (
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/resilience"
	"github.com/sells-group/grant-funnel/pkg/notion"
)

// FromConfig builds the notifiers enabled in cfg. Notion needs both a
// token and a database.
func FromConfig(cfg config.NotifyConfig, retry config.RetryConfig) []funnel.Notifier {
	var out []funnel.Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, NewSlack(cfg.SlackWebhookURL, nil))
	}
	switch {
	case cfg.NotionToken != "" && cfg.NotionDatabase != "":
		client := notion.NewClient(cfg.NotionToken, notion.WithRetry(resilience.FromConfig(retry)))
		out = append(out, NewNotion(client, cfg.NotionDatabase))
	case cfg.NotionToken != "" || cfg.NotionDatabase != "":
		zap.L().Warn("notify: notion needs both notion_token and notion_database, skipping")
	}
	return out
}
