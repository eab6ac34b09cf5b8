package notify

import (
	"context"
	"sync"

	"github.com/jomei/notionapi"
)

// fakeNotion is an in-memory Notion database.
type fakeNotion struct {
	mu      sync.Mutex
	pages   map[string]notionapi.Properties
	created int
	updated int
	err     error
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{pages: make(map[string]notionapi.Properties)}
}

func (f *fakeNotion) QueryDatabase(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pf := req.Filter.(notionapi.PropertyFilter)
	resp := &notionapi.DatabaseQueryResponse{}
	for id, props := range f.pages {
		rt, ok := props[pf.Property].(notionapi.RichTextProperty)
		if ok && len(rt.RichText) > 0 && rt.RichText[0].Text.Content == pf.RichText.Equals {
			resp.Results = append(resp.Results, notionapi.Page{ID: notionapi.ObjectID(id)})
		}
	}
	return resp, nil
}

func (f *fakeNotion) CreatePage(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	id := "page-" + string(rune('0'+f.created))
	f.pages[id] = req.Properties
	return &notionapi.Page{ID: notionapi.ObjectID(id)}, nil
}

func (f *fakeNotion) UpdatePage(_ context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.updated++
	f.pages[pageID] = req.Properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (f *fakeNotion) props(id string) notionapi.Properties {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[id]
}
