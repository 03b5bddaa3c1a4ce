package restapi

import (
	"context"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"

	"chatsync/pkg/models"
)

// Profile returns the user the token belongs to.
func (c *Client) Profile(ctx context.Context) (models.Participant, error) {
	var p models.Participant
	err := c.do(ctx, fasthttp.MethodGet, "/users/profile", nil, nil, &p)
	return p, err
}

func (c *Client) ListConversations(ctx context.Context, q models.PageQuery) (models.Page[models.Conversation], error) {
	var page models.Page[models.Conversation]
	err := c.do(ctx, fasthttp.MethodGet, "/chats", pageArgs(q), nil, &page)
	return page, err
}

func (c *Client) GetConversation(ctx context.Context, convID string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, fasthttp.MethodGet, chatPath(convID), nil, nil, &conv)
	return conv, err
}

func (c *Client) FetchMessages(ctx context.Context, convID string, q models.PageQuery) (models.Page[models.Message], error) {
	var page models.Page[models.Message]
	err := c.do(ctx, fasthttp.MethodGet, chatPath(convID, "/messages"), pageArgs(q), nil, &page)
	return page, err
}

func (c *Client) SendMessage(ctx context.Context, convID string, req models.SendRequest) (models.Message, error) {
	var m models.Message
	err := c.do(ctx, fasthttp.MethodPost, chatPath(convID, "/messages"), nil, req, &m)
	return m, err
}

func (c *Client) EditMessage(ctx context.Context, msgID, content string) (models.Message, error) {
	var m models.Message
	err := c.do(ctx, fasthttp.MethodPut, "/messages/"+url.PathEscape(msgID), nil, models.EditRequest{Content: content}, &m)
	return m, err
}

func (c *Client) DeleteMessage(ctx context.Context, msgID string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/messages/"+url.PathEscape(msgID), nil, nil, nil)
}

// SearchMessages returns the first page of server-side matches.
func (c *Client) SearchMessages(ctx context.Context, convID, query string, limit int) ([]models.Message, error) {
	args := &fasthttp.Args{}
	args.Set("query", query)
	if limit > 0 {
		args.Set("limit", strconv.Itoa(limit))
	}
	var page models.Page[models.Message]
	if err := c.do(ctx, fasthttp.MethodGet, chatPath(convID, "/messages/search"), args, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// MarkRead marks the conversation read up to messageID; an empty id marks
// everything.
func (c *Client) MarkRead(ctx context.Context, convID, messageID string) error {
	return c.do(ctx, fasthttp.MethodPut, chatPath(convID, "/mark-read"), nil, models.MarkReadRequest{MessageID: messageID}, nil)
}
