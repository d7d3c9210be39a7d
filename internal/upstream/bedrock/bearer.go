package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"golang.org/x/oauth2"
)

const bearerMiddlewareID = "ModelgateBearerToken"

// WithBearerToken returns an API option that overwrites the Authorization
// header of every outbound request with a token from ts. It runs at the end
// of the finalize step, after SigV4 signing, so it wins over the signature.
func WithBearerToken(ts oauth2.TokenSource) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Finalize.Add(middleware.FinalizeMiddlewareFunc(bearerMiddlewareID,
			func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
				req, ok := in.Request.(*smithyhttp.Request)
				if !ok {
					return middleware.FinalizeOutput{}, middleware.Metadata{}, fmt.Errorf("bearer token: unexpected transport type %T", in.Request)
				}
				tok, err := ts.Token()
				if err != nil {
					return middleware.FinalizeOutput{}, middleware.Metadata{}, fmt.Errorf("bearer token: %w", err)
				}
				tok.SetAuthHeader(req.Request)
				return next.HandleFinalize(ctx, in)
			}), middleware.After)
	}
}
