package client

import (
	"context"

	sfhttp "github.com/fivetwenty-io/sfbulk/internal/http"
	"github.com/fivetwenty-io/sfbulk/internal/retry"
)

// requester runs transport calls through the retry policy. Every job
// endpoint goes through it.
type requester struct {
	http   *sfhttp.Client
	policy *retry.Policy
}

// do executes req, retrying transient failures according to the policy.
func (r *requester) do(ctx context.Context, op string, req *sfhttp.Request, opts ...retry.CallOption) (*sfhttp.Response, error) {
	return retry.Execute(ctx, r.policy, op, func(ctx context.Context) (*sfhttp.Response, error) {
		return r.http.Do(ctx, req)
	}, opts...)
}

// call executes req and decodes the JSON response into T.
func call[T any](ctx context.Context, r *requester, op string, req *sfhttp.Request, opts ...retry.CallOption) (T, *sfhttp.Response, error) {
	var result T

	resp, err := r.do(ctx, op, req, opts...)
	if err != nil {
		return result, resp, err
	}

	err = resp.DecodeJSON(op, &result)
	if err != nil {
		return result, resp, err
	}

	return result, resp, nil
}
