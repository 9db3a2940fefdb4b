package metadata

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/objectfs/gvfs/internal/circuit"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// Authentication types accepted by RESTConfig.AuthType.
const (
	AuthNone   = "none"
	AuthSimple = "simple"
	AuthOAuth2 = "oauth2"
)

const filesetPath = "/api/metalakes/{metalake}/catalogs/{catalog}/schemas/{schema}/filesets/{fileset}"

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	ServerURI string
	AuthType  string
	// User for simple authentication.
	User string
	// Token for oauth2 authentication.
	Token   string
	Timeout time.Duration
	// Breaker, when set, guards every request.
	Breaker *circuit.Breaker
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// RESTClient talks to a Gravitino-compatible metadata server.
type RESTClient struct {
	client  *resty.Client
	breaker *circuit.Breaker
}

// ErrorResponse is the JSON body the server returns with a failed call.
type ErrorResponse struct {
	Code    int      `json:"code"`
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Stack   []string `json:"stack,omitempty"`
}

type filesetResponse struct {
	Code    int         `json:"code"`
	Fileset restFileset `json:"fileset"`
}

type restFileset struct {
	FilesetInfo
	// Newer servers report named locations instead of a single one.
	StorageLocations map[string]string `json:"storageLocations,omitempty"`
}

// NewRESTClient validates cfg and builds a client.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	uri := strings.TrimRight(strings.TrimSpace(cfg.ServerURI), "/")
	if uri == "" {
		return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "metadata server uri is required")
	}

	var c *resty.Client
	if cfg.HTTPClient != nil {
		c = resty.NewWithClient(cfg.HTTPClient)
	} else {
		c = resty.New()
	}
	c.SetBaseURL(uri).
		SetHeader("Accept", "application/vnd.gravitino.v1+json").
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}

	switch strings.ToLower(cfg.AuthType) {
	case "", AuthNone:
	case AuthSimple:
		user := cfg.User
		if user == "" {
			user = "anonymous"
		}
		// The server only reads the user name from simple credentials.
		c.SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":dummy")))
	case AuthOAuth2:
		if cfg.Token == "" {
			return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "oauth2 authentication requires a token")
		}
		c.SetAuthToken(cfg.Token)
	default:
		return nil, vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "unsupported auth type %q", cfg.AuthType)
	}

	return &RESTClient{client: c, breaker: cfg.Breaker}, nil
}

// LoadFileset implements Service.
func (c *RESTClient) LoadFileset(ctx context.Context, ident types.FilesetIdent) (FilesetInfo, error) {
	var out filesetResponse
	err := c.do(ctx, func(ctx context.Context) (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetPathParams(map[string]string{
				"metalake": ident.Metalake,
				"catalog":  ident.Catalog,
				"schema":   ident.Schema,
				"fileset":  ident.Fileset,
			}).
			SetResult(&out).
			SetError(&ErrorResponse{}).
			Get(filesetPath)
	}, "fileset "+ident.String())
	if err != nil {
		return FilesetInfo{}, err
	}

	info := out.Fileset.FilesetInfo
	if info.StorageLocation == "" && len(out.Fileset.StorageLocations) > 0 {
		info.StorageLocation = defaultLocation(out.Fileset.StorageLocations, info.Properties)
	}
	return info, nil
}

// FilesetExists implements Service.
func (c *RESTClient) FilesetExists(ctx context.Context, ident types.FilesetIdent) (bool, error) {
	_, err := c.LoadFileset(ctx, ident)
	if vfserrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (c *RESTClient) do(ctx context.Context, call func(context.Context) (*resty.Response, error), what string) error {
	var mapped error
	run := func(ctx context.Context) error {
		resp, err := call(ctx)
		mapped = toServiceError(resp, err, what)
		// Only transport trouble counts against the breaker, not the caller giving up.
		if vfserrors.IsServiceUnavailable(mapped) && !errors.Is(mapped, context.Canceled) {
			return mapped
		}
		return nil
	}

	if c.breaker == nil {
		_ = run(ctx)
		return mapped
	}
	if err := c.breaker.Do(ctx, run); err != nil && mapped == nil {
		return vfserrors.ServiceUnavailable("metadata service circuit open", err)
	}
	return mapped
}

// toServiceError maps an HTTP outcome onto the metadata error kinds.
func toServiceError(resp *resty.Response, err error, what string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return vfserrors.ServiceUnavailable("metadata request canceled", err)
		}
		return vfserrors.ServiceUnavailable("metadata service unreachable", err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	var body ErrorResponse
	if e, ok := resp.Error().(*ErrorResponse); ok && e != nil {
		body = *e
	}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := fmt.Errorf("metadata server returned HTTP %d (%s): %s", status, body.Type, msg)

	switch {
	case status == http.StatusNotFound || strings.HasPrefix(body.Type, "NoSuch"):
		return vfserrors.NotFound(what).WithCause(cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return vfserrors.Unauthorized(msg).WithCause(cause)
	case status == http.StatusBadRequest:
		return vfserrors.InvalidPath(what, msg).WithCause(cause)
	default:
		return vfserrors.ServiceUnavailable("metadata service error", cause)
	}
}

func defaultLocation(locations map[string]string, props map[string]string) string {
	if name := props["default-location-name"]; name != "" {
		if loc, ok := locations[name]; ok {
			return loc
		}
	}
	if loc, ok := locations["default"]; ok {
		return loc
	}
	if len(locations) == 1 {
		for _, loc := range locations {
			return loc
		}
	}
	return ""
}
