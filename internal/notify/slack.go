// Package notify tells people outside the funnel when an opportunity
// reaches TARGETS.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"

	"github.com/sells-group/grant-funnel/internal/model"
)

// Slack posts a message to an incoming webhook.
type Slack struct {
	webhookURL string
	http       *http.Client
}

// NewSlack creates a Slack notifier for the given incoming webhook URL.
func NewSlack(webhookURL string, hc *http.Client) *Slack {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{webhookURL: webhookURL, http: hc}
}

// NotifyTarget posts a summary of opp.
func (s *Slack) NotifyTarget(ctx context.Context, profileID string, opp *model.Opportunity) error {
	msg := slackMessage(profileID, opp)
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.http, msg); err != nil {
		return eris.Wrapf(err, "notify: slack webhook for %s", opp.OpportunityID)
	}
	return nil
}

func slackMessage(profileID string, opp *model.Opportunity) *slack.WebhookMessage {
	title := fmt.Sprintf("%s reached targets", opp.OrganizationName)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Profile*\n"+profileID, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Score*\n%.2f", opp.CurrentScore()), false, false),
	}
	if opp.FundingAmount != nil {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Funding*\n$%d", *opp.FundingAmount), false, false))
	}
	if opp.ApplicationDeadline != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			"*Deadline*\n"+opp.ApplicationDeadline, false, false))
	}

	var lines []string
	if opp.DiscoverySource != "" {
		lines = append(lines, "Source: "+opp.DiscoverySource)
	}
	if opp.WebsiteURL != "" {
		lines = append(lines, fmt.Sprintf("<%s|Website>", opp.WebsiteURL))
	}
	if n := len(opp.PromotionHistory); n > 0 && opp.PromotionHistory[n-1].Reason != "" {
		lines = append(lines, "Reason: "+opp.PromotionHistory[n-1].Reason)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if len(lines) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil))
	}

	return &slack.WebhookMessage{
		Text:   title,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}
