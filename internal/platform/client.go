package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"telepipe/internal/resources"
	"telepipe/internal/services"
)

// Client is what the scrape stage needs from the messaging platform.
type Client interface {
	ChannelInfo(ctx context.Context, channel string) (ChannelInfo, error)
	Messages(ctx context.Context, channel string, limit int) ([]Message, error)
}

// gatewayClient talks to a local HTTP gateway that fronts the platform's
// native protocol. The gateway owns the session; this client only reads.
type gatewayClient struct {
	baseURL string
	apiID   string
	apiHash string
	client  *http.Client
}

// NewGatewayClient builds a client from the run's platform resource.
func NewGatewayClient(res resources.PlatformResource) Client {
	timeout := res.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(res.GatewayURL, "/"),
		apiID:   res.APIID,
		apiHash: res.APIHash,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *gatewayClient) ChannelInfo(ctx context.Context, channel string) (ChannelInfo, error) {
	var info ChannelInfo
	path := "/channels/" + url.PathEscape(channel)
	if err := g.get(ctx, channel, path, nil, &info); err != nil {
		return ChannelInfo{}, err
	}
	return info, nil
}

func (g *gatewayClient) Messages(ctx context.Context, channel string, limit int) ([]Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var wires []wireMessage
	path := "/channels/" + url.PathEscape(channel) + "/messages"
	if err := g.get(ctx, channel, path, query, &wires); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(wires))
	for _, wire := range wires {
		msg, err := wire.toMessage(channel)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "scrape", "decode messages",
				fmt.Sprintf("channel %s: %v", channel, err), nil)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// get performs one gateway request and decodes the JSON body into out.
// Network failures and gateway 5xx responses classify as transient so the
// retry policy can take another pass; auth and not-found responses are final.
func (g *gatewayClient) get(ctx context.Context, channel, path string, query url.Values, out any) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "scrape", "build gateway request", err.Error(), err)
	}
	req.Header.Set("X-Api-Id", g.apiID)
	req.Header.Set("X-Api-Hash", g.apiHash)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, "scrape", "call gateway",
			fmt.Sprintf("channel %s: %v", channel, err), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "scrape", "call gateway",
			fmt.Sprintf("channel %s not found", channel), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "scrape", "call gateway",
			fmt.Sprintf("gateway rejected credentials (%d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "scrape", "call gateway",
			fmt.Sprintf("gateway returned %d for channel %s", resp.StatusCode, channel), nil)
	default:
		return services.Wrap(services.ErrValidation, "scrape", "call gateway",
			fmt.Sprintf("gateway returned %d for channel %s", resp.StatusCode, channel), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scrape", "read gateway response", err.Error(), err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrValidation, "scrape", "decode gateway response",
			fmt.Sprintf("channel %s: %v", channel, err), err)
	}
	return nil
}
