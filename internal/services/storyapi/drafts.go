package storyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"lifestory/internal/draft"
)

var _ draft.API = (*Client)(nil)

// TransitionStage posts a stage transition. A nil draft with a nil error means
// the server answered with a bare success envelope.
func (c *Client) TransitionStage(ctx context.Context, req draft.TransitionRequest) (*draft.Draft, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/drafts/" + escape(req.DraftID) + "/stage",
		body:   req,
	})
	if err != nil {
		return nil, err
	}
	return draftOrEnvelope(body)
}

// AddNote attaches a note to a draft. A nil note means a success envelope.
func (c *Client) AddNote(ctx context.Context, draftID string, note draft.NoteInput) (*draft.Note, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/drafts/" + escape(draftID) + "/notes",
		body:   note,
	})
	if err != nil {
		return nil, err
	}
	if err := envelopeError(body); err != nil {
		return nil, err
	}
	n, ok := normalizeNote(body)
	if !ok {
		return nil, nil
	}
	return &n, nil
}

// Regenerate requests a new draft version. The returned draft may still be generating.
func (c *Client) Regenerate(ctx context.Context, req draft.RegenerateRequest) (*draft.Regeneration, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/drafts/" + escape(req.DraftID) + "/regenerate",
		body:   req,
	})
	if err != nil {
		return nil, err
	}
	if err := envelopeError(body); err != nil {
		return nil, err
	}
	o, ok := decodeObject(unwrap(body, "data"))
	if !ok {
		return nil, invalidPayload("regenerate", "response is not an object", nil)
	}
	regen := &draft.Regeneration{
		PreviousDraftID: firstNonEmpty(o.str("previousDraftId", "previous_draft_id"), req.DraftID),
		Type:            o.str("regenerationType", "regeneration_type", "type"),
		Version:         o.int("version"),
	}
	if raw := o.raw("draft", "newDraft", "new_draft"); raw != nil {
		d, err := NormalizeDraft(raw)
		if err != nil {
			return nil, err
		}
		regen.Draft = d
		if regen.Version == 0 {
			regen.Version = d.Version
		}
	}
	return regen, nil
}

// GetDraft fetches one draft.
func (c *Client) GetDraft(ctx context.Context, draftID string) (*draft.Draft, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/drafts/" + escape(draftID)})
	if err != nil {
		return nil, err
	}
	return NormalizeDraft(body)
}

// ListOptions are the pagination and filter parameters of list endpoints.
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Filters   map[string]string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.SortBy != "" {
		q.Set("sortBy", o.SortBy)
	}
	if o.SortOrder != "" {
		q.Set("sortOrder", o.SortOrder)
	}
	keys := make([]string, 0, len(o.Filters))
	for k := range o.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := o.Filters[k]; v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// DraftPage is one page of drafts.
type DraftPage struct {
	Drafts []draft.Draft
	Total  int
	Page   int
	Limit  int
	// Skipped counts entries that failed normalization, such as legacy stages.
	Skipped []error
}

// ListDrafts lists drafts with pagination and filters.
func (c *Client) ListDrafts(ctx context.Context, opts ListOptions) (*DraftPage, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/drafts", query: opts.query()})
	if err != nil {
		return nil, err
	}
	items, o, err := listItems(body, "drafts", "data", "items")
	if err != nil {
		return nil, invalidPayload("list drafts", "unexpected response shape", err)
	}
	page := &DraftPage{Page: opts.Page, Limit: opts.Limit}
	for _, item := range items {
		d, err := NormalizeDraft(item)
		if err != nil {
			page.Skipped = append(page.Skipped, err)
			continue
		}
		page.Drafts = append(page.Drafts, *d)
	}
	page.Total = len(page.Drafts) + len(page.Skipped)
	if o != nil {
		meta := o.obj("pagination", "meta")
		if meta == nil {
			meta = o
		}
		if total := meta.int("total", "totalCount", "total_count"); total > 0 {
			page.Total = total
		}
		if p := meta.int("page"); p > 0 {
			page.Page = p
		}
		if l := meta.int("limit", "pageSize", "page_size"); l > 0 {
			page.Limit = l
		}
	}
	return page, nil
}

// UpdateDraft patches draft fields and returns the updated draft.
func (c *Client) UpdateDraft(ctx context.Context, draftID string, patch map[string]any) (*draft.Draft, error) {
	body, err := c.do(ctx, request{method: http.MethodPatch, path: "/drafts/" + escape(draftID), body: patch})
	if err != nil {
		return nil, err
	}
	d, err := draftOrEnvelope(body)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return c.GetDraft(ctx, draftID)
	}
	return d, nil
}

// DeleteDraft deletes a draft.
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	body, err := c.do(ctx, request{method: http.MethodDelete, path: "/drafts/" + escape(draftID)})
	if err != nil {
		return err
	}
	return envelopeError(body)
}

// draftOrEnvelope decodes a draft body, or returns nil for {success:true}.
func draftOrEnvelope(body []byte) (*draft.Draft, error) {
	if err := envelopeError(body); err != nil {
		return nil, err
	}
	o, ok := decodeObject(body)
	if !ok {
		return nil, nil
	}
	if !o.has("id", "draft", "data") {
		return nil, nil
	}
	return NormalizeDraft(body)
}

// envelopeError reports {success:false, message} bodies delivered with a 2xx status.
func envelopeError(body []byte) error {
	o, ok := decodeObject(body)
	if !ok || !o.has("success") {
		return nil
	}
	if o.bool("success") {
		return nil
	}
	return &APIError{Status: http.StatusUnprocessableEntity, Message: firstNonEmpty(o.str("message"), errorMessage(body), "request was not successful")}
}

// listItems finds the array of entries in a list response.
func listItems(body []byte, keys ...string) ([]json.RawMessage, object, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil, nil
	}
	o, ok := decodeObject(body)
	if !ok {
		return nil, nil, fmt.Errorf("expected array or object")
	}
	raw := o.raw(keys...)
	if raw == nil {
		return nil, o, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		// {data: {drafts: [...], total}}
		if inner, ok := decodeObject(raw); ok {
			nested, _, err := listItems(raw, keys...)
			return nested, inner, err
		}
		return nil, o, err
	}
	return items, o, nil
}
