package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vellumd/vellum/internal/apperr"
)

// KuboProvider talks to a Kubo node over its HTTP RPC api.
type KuboProvider struct {
	h    *retryablehttp.Client
	api  string
	name string
}

type KuboArgs struct {
	// Api is the RPC endpoint, e.g. http://127.0.0.1:5001.
	Api  string
	Name string
}

func NewKuboProvider(args *KuboArgs) (*KuboProvider, error) {
	if args.Api == "" {
		return nil, fmt.Errorf("ipfs: kubo api endpoint must be set")
	}

	if args.Name == "" {
		args.Name = "kubo"
	}

	h := retryablehttp.NewClient()
	h.Logger = nil

	return &KuboProvider{
		h:    h,
		api:  strings.TrimSuffix(args.Api, "/"),
		name: args.Name,
	}, nil
}

func (p *KuboProvider) Name() string {
	return p.name
}

type kuboAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func (p *KuboProvider) Add(ctx context.Context, data []byte, filename string, contentType string) (string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", p.api+"/api/v0/add?cid-version=1&pin=true", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", mw.FormDataContentType())

	resp, err := p.h.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", classifyStatus(resp.StatusCode, "add")
	}

	var parsed kuboAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	return parsed.Hash, nil
}

func (p *KuboProvider) Cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", p.api+"/api/v0/cat?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.h.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, classifyStatus(resp.StatusCode, "cat")
	}

	return io.ReadAll(resp.Body)
}

func (p *KuboProvider) Health(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", p.api+"/api/v0/version", nil)
	if err != nil {
		return err
	}

	resp, err := p.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("kubo version check returned %d", resp.StatusCode)
	}

	return nil
}

// classifyStatus maps an HTTP status the retry transport gave up on to a
// transient or permanent category.
func classifyStatus(code int, op string) error {
	err := fmt.Errorf("%s returned status %d", op, code)
	if code == http.StatusTooManyRequests || code >= 500 {
		return apperr.Wrap(apperr.ErrTransient, err)
	}
	return err
}
