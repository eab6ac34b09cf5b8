package notify

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/pkg/notion"
)

// Notion property names in the targets database.
const (
	PropName          = "Name"
	PropOpportunityID = "Opportunity ID"
	PropProfile       = "Profile"
	PropStage         = "Stage"
	PropScore         = "Score"
	PropSource        = "Source"
	PropWebsite       = "Website"
	PropFunding       = "Funding"
	PropDeadline      = "Deadline"
)

// Notion mirrors opportunities that reach TARGETS into a Notion database,
// one page per opportunity keyed by its ID.
type Notion struct {
	client     notion.Client
	databaseID string
}

// NewNotion creates a Notion notifier writing to databaseID.
func NewNotion(client notion.Client, databaseID string) *Notion {
	return &Notion{client: client, databaseID: databaseID}
}

// NotifyTarget creates the page for opp, or updates it when the
// opportunity was mirrored before.
func (n *Notion) NotifyTarget(ctx context.Context, profileID string, opp *model.Opportunity) error {
	props := pageProperties(profileID, opp)

	page, err := notion.FindByText(ctx, n.client, n.databaseID, PropOpportunityID, opp.OpportunityID)
	if err != nil {
		return eris.Wrap(err, "notify: notion lookup")
	}
	if page != nil {
		if _, err := n.client.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{Properties: props}); err != nil {
			return eris.Wrapf(err, "notify: notion update %s", opp.OpportunityID)
		}
		return nil
	}

	_, err = n.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.databaseID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "notify: notion create %s", opp.OpportunityID)
	}
	return nil
}

func pageProperties(profileID string, opp *model.Opportunity) notionapi.Properties {
	props := notionapi.Properties{
		PropName:          notion.Title(opp.OrganizationName),
		PropOpportunityID: notion.Text(opp.OpportunityID),
		PropProfile:       notion.Text(profileID),
		PropStage:         notion.Select(string(opp.CurrentStage)),
		PropScore:         notion.Number(opp.CurrentScore()),
	}
	if opp.DiscoverySource != "" {
		props[PropSource] = notion.Select(opp.DiscoverySource)
	}
	if opp.WebsiteURL != "" {
		props[PropWebsite] = notion.URL(opp.WebsiteURL)
	}
	if opp.FundingAmount != nil {
		props[PropFunding] = notion.Number(float64(*opp.FundingAmount))
	}
	if opp.ApplicationDeadline != "" {
		props[PropDeadline] = notion.Text(opp.ApplicationDeadline)
	}
	return props
}
