package websocket

import (
	"context"
	"errors"

	"domstyle-sync-server/internal/domain"
)

// PageProxy adapts one connected client to the applier's Page interface.
// Queries round-trip over the socket; commands are one-way pushes.
type PageProxy struct {
	client *Client
}

func NewPageProxy(client *Client) *PageProxy {
	return &PageProxy{client: client}
}

func (p *PageProxy) Context() domain.PageContext {
	return p.client.PageContext()
}

func (p *PageProxy) ContentReady(ctx context.Context) (bool, error) {
	reply, err := p.client.Call(ctx, TypeQueryReady, nil)
	if err != nil {
		return false, err
	}
	var payload ReadyResultPayload
	if err := reply.UnmarshalPayload(&payload); err != nil {
		return false, err
	}
	return payload.Ready, nil
}

func (p *PageProxy) MatchCount(ctx context.Context, selector string) (int, error) {
	reply, err := p.client.Call(ctx, TypeMatchRequest, MatchRequestPayload{Selector: selector})
	if err != nil {
		return 0, err
	}
	var payload MatchResultPayload
	if err := reply.UnmarshalPayload(&payload); err != nil {
		return 0, err
	}
	if payload.Error != "" {
		return 0, errors.New(payload.Error)
	}
	return payload.Count, nil
}

func (p *PageProxy) UpsertStyle(ctx context.Context, elementID, css string) error {
	msg, err := NewMessage(TypeApplyStyle, ApplyStylePayload{ElementID: elementID, CSS: css})
	if err != nil {
		return err
	}
	return p.client.Push(msg)
}

func (p *PageProxy) RemoveStyle(ctx context.Context, elementID string) error {
	msg, err := NewMessage(TypeRemoveStyle, RemoveStylePayload{ElementID: elementID})
	if err != nil {
		return err
	}
	return p.client.Push(msg)
}

func (p *PageProxy) RunScript(ctx context.Context, ruleID, source string) error {
	msg, err := NewMessage(TypeRunScript, RunScriptPayload{RuleID: ruleID, Source: source})
	if err != nil {
		return err
	}
	return p.client.Push(msg)
}

func (p *PageProxy) CurrentURL(ctx context.Context) (string, error) {
	reply, err := p.client.Call(ctx, TypeURLRequest, nil)
	if err != nil {
		return "", err
	}
	var payload URLResultPayload
	if err := reply.UnmarshalPayload(&payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}
