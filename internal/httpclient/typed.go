package httpclient

import (
	"context"
	"net/http"
	"net/url"
)

// Send runs req and decodes the data into a T.
func Send[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	if err := c.Do(ctx, req, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func Get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return Send[T](ctx, c, Request{Method: http.MethodGet, Path: path, Query: query})
}

func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Send[T](ctx, c, Request{Method: http.MethodPost, Path: path, Body: body})
}

func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Send[T](ctx, c, Request{Method: http.MethodPut, Path: path, Body: body})
}

func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Send[T](ctx, c, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete discards any response data.
func Delete(ctx context.Context, c *Client, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}
