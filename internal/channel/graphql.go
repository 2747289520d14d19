package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/docsync/internal/ir"
)

// TokenHandler returns a bearer token for a request to url. It is called
// before every request; an empty token sends no Authorization header.
type TokenHandler func(ctx context.Context, url string) (string, error)

// graphQLClient posts protocol requests and classifies failures.
//
// Network errors, non-2xx answers and unparseable bodies are TransportErrors.
// A non-null error list or a missing data field is a ProtocolError.
type graphQLClient struct {
	url    string
	http   *http.Client
	token  TokenHandler
	logger *slog.Logger
}

func (g *graphQLClient) do(ctx context.Context, query string, variables any, out any) error {
	vars, err := ir.MarshalJSONNoEscape(variables)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	body, err := ir.MarshalJSONNoEscape(GraphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Message: "GraphQL request failed", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := g.authorization(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &TransportError{Message: "GraphQL request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &TransportError{Message: fmt.Sprintf("GraphQL request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	var result GraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &TransportError{Message: "Failed to parse GraphQL response", Err: err}
	}
	if result.Errors != nil {
		detail, _ := json.MarshalIndent(result.Errors, "", "  ")
		return &ProtocolError{Message: "GraphQL errors: " + string(detail)}
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return &ProtocolError{Message: "GraphQL response missing data field"}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return &TransportError{Message: "Failed to parse GraphQL response", Err: err}
	}
	return nil
}

// authorization returns the Authorization header value. A failing handler is
// logged and the request proceeds unauthenticated.
func (g *graphQLClient) authorization(ctx context.Context) string {
	if g.token == nil {
		return ""
	}
	token, err := g.token(ctx, g.url)
	if err != nil {
		g.logger.Error("token handler failed", "url", g.url, "error", err)
		return ""
	}
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
